package container

import "encoding/base64"

// decodeStdOrURLBase64 accepts either padded-standard or URL-safe base64,
// since cryptsetup's LUKS2 JSON emitter uses standard base64 but hand-edited
// or re-serialized metadata occasionally ends up URL-safe.
func decodeStdOrURLBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
