package container

import (
	"strings"

	"github.com/google/uuid"
)

// formatUUID renders a 16-byte binary UUID (already in RFC 4122 byte order,
// as ext4's on-disk s_uuid is) in standard hyphenated form.
func formatUUID(b []byte) string {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return ""
	}
	return id.String()
}

// formatGPTGUID renders a 16-byte GPT-encoded GUID (the first three fields
// stored little-endian, per the UEFI spec's mixed-endian GUID layout) in
// standard hyphenated form, byte-swapping those fields into the RFC 4122
// big-endian order uuid.FromBytes expects.
func formatGPTGUID(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	swapped := make([]byte, 16)
	swapped[0], swapped[1], swapped[2], swapped[3] = b[3], b[2], b[1], b[0]
	swapped[4], swapped[5] = b[5], b[4]
	swapped[6], swapped[7] = b[7], b[6]
	copy(swapped[8:], b[8:])
	id, err := uuid.FromBytes(swapped)
	if err != nil {
		return ""
	}
	return id.String()
}

// sameUUID compares two UUID strings case-insensitively and ignoring
// surrounding whitespace, which is the only normalization spec.md's UUID
// matching requires (configs are written by hand).
func sameUUID(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
