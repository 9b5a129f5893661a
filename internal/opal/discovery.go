// Package opal implements C3: TCG Opal SED discovery, session
// negotiation, and the locking-range/MBR operations the resolver needs to
// unlock a self-encrypting drive before probing it as a container.
package opal

import (
	"context"
	"fmt"

	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/secureproto"
)

// Feature codes recognized while walking the Level-0 discovery response.
const (
	featureLocking    = 0x0002
	featureEnterprise = 0x0100
	featureOpalV2     = 0x0203
)

// LockingFlags mirrors the single flags byte TCG Opal's Locking feature
// descriptor carries.
type LockingFlags uint8

const (
	LockingSupported LockingFlags = 1 << 0
	LockingEnabled   LockingFlags = 1 << 1
	Locked           LockingFlags = 1 << 2
	MediaEncryption  LockingFlags = 1 << 3
	MBREnabled       LockingFlags = 1 << 4
	MBRDone          LockingFlags = 1 << 5
)

func (f LockingFlags) Has(bit LockingFlags) bool { return f&bit != 0 }

// ComIDInfo is the (base ComID, count) pair a discovery feature descriptor
// reports for a security-subsystem-class.
type ComIDInfo struct {
	BaseComID uint16
	NumComIDs uint16
}

// DeviceInfo is the Level-0 discovery subset this loader needs.
type DeviceInfo struct {
	Locking    LockingFlags
	HasLocking bool
	OpalV2     *ComIDInfo
	Enterprise *ComIDInfo
}

// discoveryBufferSize is the buffer Level-0 discovery is read into; real
// drives' discovery responses fit comfortably within one aligned kilobyte.
const discoveryBufferSize = 1024

// discover issues Level-0 discovery (security protocol 1, ComID 1) and
// parses the TLV feature list.
func discover(ctx context.Context, dev secureproto.SecureProtocol) (DeviceInfo, error) {
	buf := make([]byte, discoveryBufferSize)
	if err := dev.SecureRecv(ctx, 1, 1, buf); err != nil {
		return DeviceInfo{}, fmt.Errorf("level-0 discovery recv: %w", err)
	}

	if buf[4] != 0 || buf[5] != 0 || buf[6] != 0 || buf[7] != 1 {
		return DeviceInfo{}, fmt.Errorf("discovery header version %v: %w", buf[4:8], errs.ErrIncompatibleVersion)
	}

	var info DeviceInfo
	offset := 48
	for offset < len(buf)-1 {
		code := uint16(buf[offset])<<8 | uint16(buf[offset+1])
		switch code {
		case featureLocking:
			if offset+4 >= len(buf) {
				return info, nil
			}
			info.Locking = LockingFlags(buf[offset+4])
			info.HasLocking = true
		case featureEnterprise:
			c := readComID(buf, offset+4)
			info.Enterprise = &c
		case featureOpalV2:
			c := readComID(buf, offset+4)
			info.OpalV2 = &c
		}
		if offset+3 >= len(buf) {
			return info, nil
		}
		length := int(buf[offset+3])
		offset += length + 4
	}
	return info, nil
}

func readComID(buf []byte, offset int) ComIDInfo {
	return ComIDInfo{
		BaseComID: uint16(buf[offset])<<8 | uint16(buf[offset+1]),
		NumComIDs: uint16(buf[offset+2])<<8 | uint16(buf[offset+3]),
	}
}

// SecureDevice wraps a secureproto.SecureProtocol with the resolved Opal
// ComID and locking state discovered at construction time.
type SecureDevice struct {
	proto     secureproto.SecureProtocol
	comID     uint16
	isEprise  bool
	wasLocked bool
}

// NewSecureDevice runs Level-0 discovery and selects Enterprise over Opal V2
// when both are present, per spec.
func NewSecureDevice(ctx context.Context, proto secureproto.SecureProtocol) (*SecureDevice, error) {
	info, err := discover(ctx, proto)
	if err != nil {
		return nil, err
	}
	var comID uint16
	isEprise := false
	switch {
	case info.Enterprise != nil:
		comID = info.Enterprise.BaseComID
		isEprise = true
	case info.OpalV2 != nil:
		comID = info.OpalV2.BaseComID
	default:
		return nil, errs.ErrUnsupported
	}
	return &SecureDevice{
		proto:     proto,
		comID:     comID,
		isEprise:  isEprise,
		wasLocked: info.HasLocking && info.Locking.Has(Locked),
	}, nil
}

// WasLocked reports whether the drive was locked at the time this
// SecureDevice was constructed.
func (d *SecureDevice) WasLocked() bool { return d.wasLocked }

// ComID is the selected Enterprise/Opal V2 ComID.
func (d *SecureDevice) ComID() uint16 { return d.comID }

// IsEnterprise reports whether the Enterprise SSC (rather than Opal V2) was selected.
func (d *SecureDevice) IsEnterprise() bool { return d.isEprise }

// Proto exposes the underlying transport for session framing.
func (d *SecureDevice) Proto() secureproto.SecureProtocol { return d.proto }

// RecvLocked re-runs discovery and reports the drive's current locked state.
func (d *SecureDevice) RecvLocked(ctx context.Context) (bool, error) {
	info, err := discover(ctx, d.proto)
	if err != nil {
		return false, err
	}
	return info.HasLocking && info.Locking.Has(Locked), nil
}

// ModelNumber is diagnostic-only: the underlying transport's model string,
// never used for matching logic (serial number is the identifier used for
// that).
func (d *SecureDevice) ModelNumber() string {
	return d.proto.ModelNumber()
}
