package secureproto

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

// fakePassthrough records the cdb/data it was sent and plays back a fixed
// response buffer, regardless of command, to exercise the encoding layer
// without a real ATA/NVMe controller underneath it.
type fakePassthrough struct {
	align        int
	response     []byte
	reconnected  bool
	lastCDB      []byte
	lastDataLen  int
	lastDataIn   bool
}

func (f *fakePassthrough) Align() int { return f.align }

func (f *fakePassthrough) SendRaw(_ context.Context, cdb []byte, data []byte, dataIn bool, _ time.Duration) error {
	f.lastCDB = append([]byte(nil), cdb...)
	f.lastDataLen = len(data)
	f.lastDataIn = dataIn
	if dataIn {
		copy(data, f.response)
	}
	return nil
}

func (f *fakePassthrough) Reconnect(_ context.Context) error {
	f.reconnected = true
	return nil
}

func TestATATransportIdentifySerialByteswapped(t *testing.T) {
	resp := make([]byte, 512)
	// bytes 20..40 hold the serial as big-endian 16-bit words; "AB" "CD" ...
	copy(resp[20:], []byte("BADCFEHGJILKNMPORQTS"))
	pt := &fakePassthrough{align: 2, response: resp}

	tr, err := NewATATransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewATATransport: %v", err)
	}
	want := "ABCDEFGHIJKLMNOPQRST"
	if string(tr.SerialNum()) != want {
		t.Fatalf("got serial %q, want %q", tr.SerialNum(), want)
	}
	if pt.lastCDB[6] != ataCmdIdentifyDevice {
		t.Fatalf("expected IDENTIFY DEVICE command byte, got %#x", pt.lastCDB[6])
	}
}

func TestATATransportIdentifyModelByteswappedAndTrimmed(t *testing.T) {
	resp := make([]byte, 512)
	copy(resp[20:], []byte("BADCFEHGJILKNMPORQTS"))
	// bytes 54..94 hold the model number as big-endian 16-bit words,
	// padded with trailing spaces.
	model := "MODEL1234567890DRIVE                    "
	copy(resp[54:], []byte(model))
	byteswapPairs(resp[54:94])
	pt := &fakePassthrough{align: 2, response: resp}

	tr, err := NewATATransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewATATransport: %v", err)
	}
	want := strings.TrimRight(model[:40], " ")
	if tr.ModelNumber() != want {
		t.Fatalf("got model %q, want %q", tr.ModelNumber(), want)
	}
}

func TestATATransportSecureSendEncodesComIDInCylinderRegisters(t *testing.T) {
	pt := &fakePassthrough{align: 2, response: make([]byte, 512)}
	tr, err := NewATATransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewATATransport: %v", err)
	}

	if err := tr.SecureSend(context.Background(), 1, 0x1234, []byte("payload")); err != nil {
		t.Fatalf("SecureSend: %v", err)
	}
	if pt.lastDataIn {
		t.Fatalf("expected SecureSend to transfer data out, not in")
	}
	if pt.lastCDB[6] != ataCmdTrustedSend {
		t.Fatalf("expected TRUSTED SEND command byte, got %#x", pt.lastCDB[6])
	}
	if pt.lastCDB[3] != 0x34 || pt.lastCDB[4] != 0x12 {
		t.Fatalf("expected ComID split across cylinder_low/high, got %#x %#x", pt.lastCDB[3], pt.lastCDB[4])
	}
	if pt.lastCDB[5] != ataDeviceHead {
		t.Fatalf("expected device_head=0x40, got %#x", pt.lastCDB[5])
	}
	if pt.lastDataLen%512 != 0 {
		t.Fatalf("expected data rounded up to a sector multiple, got %d", pt.lastDataLen)
	}
}

func TestATATransportSecureRecvCopiesResponse(t *testing.T) {
	resp := make([]byte, 512)
	copy(resp, []byte("hello opal"))
	pt := &fakePassthrough{align: 2, response: resp}
	tr, err := NewATATransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewATATransport: %v", err)
	}

	buf := make([]byte, 16)
	if err := tr.SecureRecv(context.Background(), 1, 1, buf); err != nil {
		t.Fatalf("SecureRecv: %v", err)
	}
	if !bytes.Equal(buf[:10], []byte("hello opal")) {
		t.Fatalf("got %q", buf[:10])
	}
}

func TestNVMeTransportIdentifySerial(t *testing.T) {
	resp := make([]byte, 4096)
	copy(resp[4:], []byte("SERIALNUMBER1234567890"))
	pt := &fakePassthrough{align: 4, response: resp}

	tr, err := NewNVMeTransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewNVMeTransport: %v", err)
	}
	want := "SERIALNUMBER1234567890"[:20]
	if string(tr.SerialNum()) != want {
		t.Fatalf("got serial %q, want %q", tr.SerialNum(), want)
	}
	if pt.lastCDB[0] != nvmeCmdIdentify {
		t.Fatalf("expected Identify opcode, got %#x", pt.lastCDB[0])
	}
}

func TestNVMeTransportIdentifyModelTrimmed(t *testing.T) {
	resp := make([]byte, 4096)
	copy(resp[4:], []byte("SERIALNUMBER1234567890"))
	model := "NVME MODEL NAME 12345                   "
	copy(resp[24:], []byte(model))
	pt := &fakePassthrough{align: 4, response: resp}

	tr, err := NewNVMeTransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewNVMeTransport: %v", err)
	}
	want := strings.TrimRight(model[:40], " ")
	if tr.ModelNumber() != want {
		t.Fatalf("got model %q, want %q", tr.ModelNumber(), want)
	}
}

func TestNVMeTransportSecuritySendEncodesProtocolAndComIDInCDW10(t *testing.T) {
	pt := &fakePassthrough{align: 4, response: make([]byte, 4096)}
	tr, err := NewNVMeTransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewNVMeTransport: %v", err)
	}

	if err := tr.SecureSend(context.Background(), 0x01, 0x0001, []byte("x")); err != nil {
		t.Fatalf("SecureSend: %v", err)
	}
	if pt.lastCDB[0] != nvmeCmdSecuritySend {
		t.Fatalf("expected Security Send opcode, got %#x", pt.lastCDB[0])
	}
	cdw10 := uint32(pt.lastCDB[1]) | uint32(pt.lastCDB[2])<<8 | uint32(pt.lastCDB[3])<<16 | uint32(pt.lastCDB[4])<<24
	wantCDW10 := uint32(0x01)<<24 | uint32(0x0001)<<8
	if cdw10 != wantCDW10 {
		t.Fatalf("got CDW10 %#x, want %#x", cdw10, wantCDW10)
	}
}

func TestReconnectDelegatesToPassthrough(t *testing.T) {
	pt := &fakePassthrough{align: 2, response: make([]byte, 512)}
	tr, err := NewATATransport(context.Background(), pt)
	if err != nil {
		t.Fatalf("NewATATransport: %v", err)
	}
	if err := tr.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if !pt.reconnected {
		t.Fatalf("expected underlying passthrough to be reconnected")
	}
}
