package opal

import (
	"context"
	"testing"
)

// fakeSecureProtocol serves a fixed Level-0 discovery response and records
// every send/recv it's asked to perform.
type fakeSecureProtocol struct {
	discoveryResp []byte
	serial        []byte
	sent          [][]byte
}

func (f *fakeSecureProtocol) SecureSend(_ context.Context, _ uint8, _ uint16, data []byte) error {
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeSecureProtocol) SecureRecv(_ context.Context, _ uint8, _ uint16, buffer []byte) error {
	copy(buffer, f.discoveryResp)
	return nil
}

func (f *fakeSecureProtocol) Reconnect(_ context.Context) error { return nil }
func (f *fakeSecureProtocol) Align() int                        { return 2 }
func (f *fakeSecureProtocol) SerialNum() []byte                  { return f.serial }
func (f *fakeSecureProtocol) ModelNumber() string                { return "FAKE MODEL" }

func buildDiscoveryResponse(hasEnterprise, hasOpalV2 bool, locked bool) []byte {
	buf := make([]byte, discoveryBufferSize)
	buf[7] = 1 // version
	offset := 48

	writeFeature := func(code uint16, version, dataLen byte, data []byte) {
		buf[offset] = byte(code >> 8)
		buf[offset+1] = byte(code)
		buf[offset+2] = version
		buf[offset+3] = dataLen
		copy(buf[offset+4:], data)
		offset += int(dataLen) + 4
	}

	lockingByte := byte(LockingSupported | LockingEnabled)
	if locked {
		lockingByte |= byte(Locked)
	}
	writeFeature(featureLocking, 0, 12, []byte{lockingByte})

	if hasEnterprise {
		writeFeature(featureEnterprise, 0, 16, []byte{0x07, 0xfe, 0x00, 0x01})
	}
	if hasOpalV2 {
		writeFeature(featureOpalV2, 0, 16, []byte{0x08, 0x01, 0x00, 0x01})
	}
	return buf
}

func TestDiscoverPrefersEnterpriseOverOpalV2(t *testing.T) {
	proto := &fakeSecureProtocol{discoveryResp: buildDiscoveryResponse(true, true, false)}
	info, err := discover(context.Background(), proto)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if info.Enterprise == nil || info.Enterprise.BaseComID != 0x07fe {
		t.Fatalf("expected Enterprise ComID 0x07fe, got %+v", info.Enterprise)
	}

	dev, err := NewSecureDevice(context.Background(), proto)
	if err != nil {
		t.Fatalf("NewSecureDevice: %v", err)
	}
	if !dev.IsEnterprise() {
		t.Fatalf("expected Enterprise to be selected over Opal V2")
	}
	if dev.ComID() != 0x07fe {
		t.Fatalf("got ComID %#x, want %#x", dev.ComID(), 0x07fe)
	}
}

func TestDiscoverFallsBackToOpalV2(t *testing.T) {
	proto := &fakeSecureProtocol{discoveryResp: buildDiscoveryResponse(false, true, false)}
	dev, err := NewSecureDevice(context.Background(), proto)
	if err != nil {
		t.Fatalf("NewSecureDevice: %v", err)
	}
	if dev.IsEnterprise() {
		t.Fatalf("expected Opal V2, not Enterprise")
	}
	if dev.ComID() != 0x0801 {
		t.Fatalf("got ComID %#x, want %#x", dev.ComID(), 0x0801)
	}
}

func TestDiscoverUnsupportedWhenNeitherSSCPresent(t *testing.T) {
	proto := &fakeSecureProtocol{discoveryResp: buildDiscoveryResponse(false, false, false)}
	if _, err := NewSecureDevice(context.Background(), proto); err == nil {
		t.Fatalf("expected an error when neither Enterprise nor Opal V2 is present")
	}
}

func TestDiscoverRejectsBadVersion(t *testing.T) {
	buf := buildDiscoveryResponse(true, false, false)
	buf[7] = 2 // wrong version
	proto := &fakeSecureProtocol{discoveryResp: buf}
	if _, err := discover(context.Background(), proto); err == nil {
		t.Fatalf("expected an incompatible-version error")
	}
}

func TestWasLockedReflectsDiscoveryLockingFlag(t *testing.T) {
	proto := &fakeSecureProtocol{discoveryResp: buildDiscoveryResponse(true, false, true)}
	dev, err := NewSecureDevice(context.Background(), proto)
	if err != nil {
		t.Fatalf("NewSecureDevice: %v", err)
	}
	if !dev.WasLocked() {
		t.Fatalf("expected WasLocked() to report true")
	}
}
