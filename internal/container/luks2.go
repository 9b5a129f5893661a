package container

import (
	"context"
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"

	"github.com/oberien/opal-uefi-greeter/internal/bootcfg"
	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/keyslot"
	"github.com/oberien/opal-uefi-greeter/internal/logger"
)

// luks2HeaderLen is the fixed binary portion of a LUKS2 header; the JSON
// metadata area begins immediately after it and runs to hdrSize.
const luks2HeaderLen = 4096

var luks2Magic = [6]byte{'L', 'U', 'K', 'S', 0xba, 0xbe}

// luks2Metadata is the subset of the real LUKS2 JSON schema this probe
// needs: enough to locate a keyslot's KDF/AF/area parameters, match it to a
// digest, and find the segment it protects. Anything else (tokens,
// non-default segment types, non-"raw" areas) is out of scope.
type luks2Metadata struct {
	Keyslots map[string]luks2Keyslot `json:"keyslots"`
	Digests  map[string]luks2Digest  `json:"digests"`
	Segments map[string]luks2Segment `json:"segments"`
}

type luks2Keyslot struct {
	Type    string         `json:"type"`
	KeySize int            `json:"key_size"`
	AF      luks2AF        `json:"af"`
	Area    luks2Area      `json:"area"`
	KDF     luks2KDF       `json:"kdf"`
}

type luks2AF struct {
	Stripes int    `json:"stripes"`
	Hash    string `json:"hash"`
}

type luks2Area struct {
	Type       string `json:"type"`
	Offset     string `json:"offset"`
	Size       string `json:"size"`
	Encryption string `json:"encryption"`
	KeySize    int    `json:"key_size"`
}

type luks2KDF struct {
	Type   string `json:"type"`
	Salt   string `json:"salt"` // base64
	Time   int    `json:"time"`
	Memory int    `json:"memory"`
	CPUs   int    `json:"cpus"`
	Hash   string `json:"hash"`
	Iterations int `json:"iterations"`
}

type luks2Digest struct {
	Type       string   `json:"type"`
	Keyslots   []string `json:"keyslots"`
	Segments   []string `json:"segments"`
	Salt       string   `json:"salt"`
	Digest     string   `json:"digest"`
	Hash       string   `json:"hash"`
	Iterations int      `json:"iterations"`
}

type luks2Segment struct {
	Type       string `json:"type"`
	Offset     string `json:"offset"`
	Size       string `json:"size"` // "dynamic" or a decimal string
	Encryption string `json:"encryption"`
	SectorSize int    `json:"sector_size"`
}

// probeLUKS2 reads and parses a LUKS2 header, matches its UUID, resolves
// the volume master key (from cache or by unlocking the configured
// keyslot), opens a decrypting reader over the data segment, and recurses
// into it with the chain's next layer.
func probeLUKS2(ctx context.Context, rs io.ReadSeeker, chain []bootcfg.Partition, targetFile string, deps Deps) ([]byte, error) {
	expected := chain[0]

	hdr := make([]byte, luks2HeaderLen)
	if _, err := io.ReadFull(rs, hdr); err != nil {
		return nil, fmt.Errorf("luks2: read header: %w", err)
	}
	var magic [6]byte
	copy(magic[:], hdr[0:6])
	if magic != luks2Magic {
		return nil, fmt.Errorf("luks2: magic mismatch: %w", errs.ErrFileNotFound)
	}
	version := binary.BigEndian.Uint16(hdr[6:8])
	if version != 2 {
		return nil, fmt.Errorf("luks2: unsupported header version %d: %w", version, errs.ErrFileNotFound)
	}
	hdrSize := binary.BigEndian.Uint64(hdr[8:16])
	uuid := decodeLuks2UUID(hdr[168:208])
	if !sameUUID(uuid, expected.UUID) {
		return nil, fmt.Errorf("luks2: uuid %q != expected %q: %w", uuid, expected.UUID, errs.ErrFileNotFound)
	}
	if len(chain) < 2 {
		return nil, fmt.Errorf("luks2: matched but chain has no nested partition to recurse into: %w", errs.ErrFileNotFound)
	}

	jsonArea := make([]byte, hdrSize-luks2HeaderLen)
	if _, err := rs.Seek(luks2HeaderLen, io.SeekStart); err != nil {
		return nil, fmt.Errorf("luks2: seek json area: %w", err)
	}
	if _, err := io.ReadFull(rs, jsonArea); err != nil {
		return nil, fmt.Errorf("luks2: read json area: %w", err)
	}
	nul := indexNul(jsonArea)
	var meta luks2Metadata
	if err := json.Unmarshal(jsonArea[:nul], &meta); err != nil {
		return nil, fmt.Errorf("luks2: parse metadata json: %w", err)
	}

	masterKey, err := resolveLuks2MasterKey(ctx, rs, uuid, meta, expected, deps)
	if err != nil {
		return nil, fmt.Errorf("luks2: %w", err)
	}

	segment, ok := firstSegmentFor(meta)
	if !ok {
		return nil, fmt.Errorf("luks2: no usable crypt segment in metadata: %w", errs.ErrFileNotFound)
	}
	segOffset, err := strconv.ParseInt(segment.Offset, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("luks2: parse segment offset: %w", err)
	}
	sectorSize := segment.SectorSize
	if sectorSize == 0 {
		sectorSize = 512
	}

	totalSize, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("luks2: size probe: %w", err)
	}
	plaintextSize := totalSize - segOffset

	decReader, err := newXTSReader(rs, masterKey, segOffset, plaintextSize, int64(sectorSize))
	if err != nil {
		return nil, fmt.Errorf("luks2: build decrypting reader: %w", err)
	}

	return Resolve(ctx, decReader, chain[1:], targetFile, deps)
}

func decodeLuks2UUID(b []byte) string {
	n := indexNul(b)
	return string(b[:n])
}

func indexNul(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}

func firstSegmentFor(meta luks2Metadata) (luks2Segment, bool) {
	for _, s := range meta.Segments {
		if s.Type == "crypt" {
			return s, true
		}
	}
	return luks2Segment{}, false
}

// resolveLuks2MasterKey consults the master-key cache first; on a miss it
// resolves the configured keyslot via C4 and tries every keyslot listed by
// any digest. After each rejection it resolves the password again with the
// keyslot cache discarded; the loop ends only on success or when keyslot
// resolution itself fails.
func resolveLuks2MasterKey(ctx context.Context, rs io.ReadSeeker, uuid string, meta luks2Metadata, partition bootcfg.Partition, deps Deps) ([]byte, error) {
	if deps.MasterKeys != nil {
		if mk, ok := deps.MasterKeys.get(uuid); ok {
			return mk, nil
		}
	}

	ks, ok := deps.Keyslots[partition.Keyslot]
	if !ok {
		return nil, fmt.Errorf("undefined keyslot %q for partition %q: %w", partition.Keyslot, partition.Name, errs.ErrFileNotFound)
	}

	mode := keyslot.Cached
	for {
		raw, err := keyslot.Resolve(ctx, deps.Console, deps.Cache, deps.FileResolver, partition.Keyslot, ks, mode)
		if err != nil {
			return nil, fmt.Errorf("resolve keyslot %q: %w", partition.Keyslot, err)
		}
		if ks.Source.File != nil {
			keyslot.WarnIfShortForLUKS(partition.Keyslot, raw)
		}

		mk, err := tryAllLuks2Keyslots(rs, meta, raw)
		if err == nil {
			if deps.MasterKeys != nil {
				deps.MasterKeys.set(uuid, mk)
			}
			return mk, nil
		}
		logger.Logger().Debugf("luks2: password rejected for partition %q: %v", partition.Name, err)
		mode = keyslot.Discard
	}
}

// tryAllLuks2Keyslots tries to unlock every digest-referenced keyslot with
// password, returning the first resulting master key whose digest matches.
func tryAllLuks2Keyslots(rs io.ReadSeeker, meta luks2Metadata, password []byte) ([]byte, error) {
	for _, digest := range meta.Digests {
		for _, ksID := range digest.Keyslots {
			ks, ok := meta.Keyslots[ksID]
			if !ok {
				continue
			}
			mk, err := tryLuks2Keyslot(rs, ks, password)
			if err != nil {
				continue
			}
			if digestMatches(digest, mk) {
				return mk, nil
			}
		}
	}
	return nil, errs.ErrInvalidPassword
}

func digestMatches(d luks2Digest, masterKey []byte) bool {
	salt := mustBase64(d.Salt)
	expect := mustBase64(d.Digest)
	iterations := d.Iterations
	if iterations <= 0 {
		iterations = 1000
	}
	got := pbkdf2.Key(masterKey, salt, iterations, len(expect), sha256.New)
	if len(got) != len(expect) {
		return false
	}
	for i := range got {
		if got[i] != expect[i] {
			return false
		}
	}
	return true
}

func tryLuks2Keyslot(rs io.ReadSeeker, ks luks2Keyslot, password []byte) ([]byte, error) {
	keySize := ks.KeySize
	if keySize == 0 {
		keySize = 32
	}

	var kek []byte
	salt := mustBase64(ks.KDF.Salt)
	switch ks.KDF.Type {
	case "argon2id", "argon2i":
		kek = argon2.IDKey(password, salt, uint32(ks.KDF.Time), uint32(ks.KDF.Memory), uint8(ks.KDF.CPUs), uint32(keySize))
	case "pbkdf2":
		hashFn := sha256.New
		kek = pbkdf2.Key(password, salt, ks.KDF.Iterations, keySize, hashFn)
	default:
		return nil, fmt.Errorf("unsupported kdf type %q", ks.KDF.Type)
	}

	areaOffset, err := strconv.ParseInt(ks.Area.Offset, 10, 64)
	if err != nil {
		return nil, err
	}
	areaSize, err := strconv.ParseInt(ks.Area.Size, 10, 64)
	if err != nil {
		return nil, err
	}

	split := make([]byte, areaSize)
	if _, err := rs.Seek(areaOffset, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rs, split); err != nil {
		return nil, err
	}

	cipherName, _ := splitCipherAndMode(ks.Area.Encryption)
	plain, err := xtsDecryptRegion(split, kek, cipherName, 4096)
	if err != nil {
		return nil, err
	}

	stripes := ks.AF.Stripes
	if stripes == 0 {
		stripes = 4000
	}
	return afMerge(plain, stripes, keySize), nil
}

// xtsDecryptRegion decrypts a whole AF-split area sector-by-sector with
// AES-XTS, tweak/sector numbering starting at 0 within the area (the LUKS2
// binary-area convention, distinct from the data segment's own iv_tweak).
func xtsDecryptRegion(ciphertext, key []byte, cipherName string, sectorSize int) ([]byte, error) {
	if cipherName != "aes" {
		return nil, fmt.Errorf("unsupported area cipher %q", cipherName)
	}
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	for off := 0; off < len(ciphertext); off += sectorSize {
		end := off + sectorSize
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		sectorNum := uint64(off / sectorSize)
		c.Decrypt(out[off:end], ciphertext[off:end], sectorNum)
	}
	return out, nil
}

func splitCipherAndMode(enc string) (cipherName, mode string) {
	for i := 0; i < len(enc); i++ {
		if enc[i] == '-' {
			return enc[:i], enc[i+1:]
		}
	}
	return enc, ""
}

func mustBase64(s string) []byte {
	b, err := decodeStdOrURLBase64(s)
	if err != nil {
		return nil
	}
	return b
}
