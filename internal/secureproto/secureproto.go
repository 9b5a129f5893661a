// Package secureproto implements C2: the ATA/NVMe command encodings a TCG
// Opal session is framed over. It turns a platform.SecurePassthrough
// (one raw vendor command per call) into the narrower SecureProtocol
// capability internal/opal is built against: secure_send/secure_recv
// addressed by (security protocol, ComID), plus controller reconnect and
// the serial number used to derive the Opal Stdin keyslot's PBKDF2 salt.
package secureproto

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/platform"
)

// SecureProtocol is the capability internal/opal's session layer is built
// on: security-protocol SEND/RECEIVE addressed by (protocol, comID), plus
// the two escape hatches TCG Opal sessions occasionally need.
type SecureProtocol interface {
	// SecureSend issues a TRUSTED SEND / Security Send with the given
	// security protocol and ComID, transferring data out to the device.
	SecureSend(ctx context.Context, protocol uint8, comID uint16, data []byte) error
	// SecureRecv issues a TRUSTED RECEIVE / Security Receive, filling buffer
	// with up to its length of response data.
	SecureRecv(ctx context.Context, protocol uint8, comID uint16, buffer []byte) error
	// Reconnect disconnects and reconnects the controller, forcing it to
	// re-evaluate its reported Opal locking state (used after an MBR/locking
	// range change takes effect).
	Reconnect(ctx context.Context) error
	// Align is the DMA buffer alignment the underlying transport requires.
	Align() int
	// SerialNum is the drive's ATA/NVMe serial number, byte-swapped to
	// natural reading order where the transport reports it big-endian.
	SerialNum() []byte
	// ModelNumber is the drive's ATA model number / NVMe model number (MN),
	// trimmed of trailing padding, harvested from the same IDENTIFY/Identify
	// Controller response as SerialNum. It is diagnostic only.
	ModelNumber() string
}

const secureCommandTimeout = 30 * time.Second

// ATA command codes used for TCG Opal passthrough (ACS-3 §7.33/7.34).
const (
	ataCmdIdentifyDevice = 0xec
	ataCmdTrustedRecv    = 0x5c
	ataCmdTrustedSend    = 0x5e
)

// ataDeviceHead is the device/head register value used for every TCG
// command: LBA mode, no slave-device bit set.
const ataDeviceHead = 0x40

// ATATransport implements SecureProtocol over platform.SecurePassthrough
// using ATA TRUSTED SEND/RECEIVE, addressing the ComID via the
// cylinder_low/cylinder_high registers as ACS-3 specifies.
type ATATransport struct {
	pt     platform.SecurePassthrough
	serial []byte
	model  string
}

// NewATATransport harvests the drive's serial number via IDENTIFY DEVICE
// and returns a ready-to-use transport.
func NewATATransport(ctx context.Context, pt platform.SecurePassthrough) (*ATATransport, error) {
	t := &ATATransport{pt: pt}
	serial, model, err := t.identify(ctx)
	if err != nil {
		return nil, fmt.Errorf("ATA IDENTIFY DEVICE: %w", err)
	}
	t.serial = serial
	t.model = model
	return t, nil
}

// ataRegs is the register file ACS-3 defines for a 28-bit PIO/non-data
// passthrough command, in the order platform.SecurePassthrough expects its
// cdb to be laid out (feature, sector_count, sector_number, cylinder_low,
// cylinder_high, device_head, command).
type ataRegs struct {
	command     uint8
	features    uint8
	sectorCount uint8
	sectorNum   uint8
	cylinderLo  uint8
	cylinderHi  uint8
	deviceHead  uint8
}

func (r ataRegs) encode() []byte {
	return []byte{r.features, r.sectorCount, r.sectorNum, r.cylinderLo, r.cylinderHi, r.deviceHead, r.command}
}

func (t *ATATransport) identify(ctx context.Context) (serial []byte, model string, err error) {
	regs := ataRegs{command: ataCmdIdentifyDevice, deviceHead: ataDeviceHead}
	buf := make([]byte, 512)
	if err := t.pt.SendRaw(ctx, regs.encode(), buf, true, secureCommandTimeout); err != nil {
		return nil, "", err
	}
	// ATA IDENTIFY DEVICE words 10-19 (byte offset 20) carry the serial
	// number as big-endian 16-bit words; swap each pair to natural order.
	serial = make([]byte, 20)
	copy(serial, buf[20:40])
	byteswapPairs(serial)
	// Words 27-46 (byte offset 54-94) carry the model number, same
	// byte-swapped-pair ASCII encoding as the serial number.
	modelRaw := make([]byte, 40)
	copy(modelRaw, buf[54:94])
	byteswapPairs(modelRaw)
	model = strings.TrimRight(string(modelRaw), " \x00")
	return serial, model, nil
}

func byteswapPairs(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

func (t *ATATransport) SecureSend(ctx context.Context, protocol uint8, comID uint16, data []byte) error {
	regs := ataRegs{
		command:    ataCmdTrustedSend,
		features:   protocol,
		cylinderHi: uint8(comID >> 8),
		cylinderLo: uint8(comID),
		deviceHead: ataDeviceHead,
	}
	rounded := roundUpToSector(len(data))
	out := make([]byte, rounded)
	copy(out, data)
	if err := t.pt.SendRaw(ctx, regs.encode(), out, false, secureCommandTimeout); err != nil {
		return fmt.Errorf("%w: ATA TRUSTED SEND: %v", errs.ErrIo, err)
	}
	return nil
}

func (t *ATATransport) SecureRecv(ctx context.Context, protocol uint8, comID uint16, buffer []byte) error {
	regs := ataRegs{
		command:    ataCmdTrustedRecv,
		features:   protocol,
		cylinderHi: uint8(comID >> 8),
		cylinderLo: uint8(comID),
		deviceHead: ataDeviceHead,
	}
	rounded := roundUpToSector(len(buffer))
	in := make([]byte, rounded)
	if err := t.pt.SendRaw(ctx, regs.encode(), in, true, secureCommandTimeout); err != nil {
		return fmt.Errorf("%w: ATA TRUSTED RECEIVE: %v", errs.ErrIo, err)
	}
	copy(buffer, in)
	return nil
}

func (t *ATATransport) Reconnect(ctx context.Context) error { return t.pt.Reconnect(ctx) }
func (t *ATATransport) Align() int                          { return t.pt.Align() }
func (t *ATATransport) SerialNum() []byte                   { return t.serial }
func (t *ATATransport) ModelNumber() string                 { return t.model }

func roundUpToSector(n int) int {
	const sector = 512
	if n%sector == 0 && n != 0 {
		return n
	}
	return (n/sector + 1) * sector
}

// NVMe admin opcodes for TCG Opal passthrough (NVMe base spec §5, Security
// Send/Receive), and the admin Identify Controller opcode used to harvest
// the serial number.
const (
	nvmeCmdIdentify     = 0x06
	nvmeCmdSecuritySend = 0x81
	nvmeCmdSecurityRecv = 0x82
)

// NVMeTransport implements SecureProtocol over platform.SecurePassthrough
// using NVMe Security Send/Receive admin commands, addressing the ComID via
// CDW10 as the NVMe base specification requires.
type NVMeTransport struct {
	pt     platform.SecurePassthrough
	serial []byte
	model  string
}

// NewNVMeTransport harvests the controller serial number via Identify
// Controller (CNS=1) and returns a ready-to-use transport.
func NewNVMeTransport(ctx context.Context, pt platform.SecurePassthrough) (*NVMeTransport, error) {
	t := &NVMeTransport{pt: pt}
	serial, model, err := t.identify(ctx)
	if err != nil {
		return nil, fmt.Errorf("NVMe Identify Controller: %w", err)
	}
	t.serial = serial
	t.model = model
	return t, nil
}

// nvmeCmd lays out the admin command as opcode, CDW10, CDW11 — the three
// fields every Opal-relevant NVMe admin command needs; the rest of the
// submission queue entry is transport/queue bookkeeping the platform layer
// owns.
type nvmeCmd struct {
	opcode uint8
	cdw10  uint32
	cdw11  uint32
}

func (c nvmeCmd) encode() []byte {
	buf := make([]byte, 9)
	buf[0] = c.opcode
	putLE32(buf[1:5], c.cdw10)
	putLE32(buf[5:9], c.cdw11)
	return buf
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func (t *NVMeTransport) identify(ctx context.Context) (serial []byte, model string, err error) {
	cmd := nvmeCmd{opcode: nvmeCmdIdentify, cdw10: 1}
	buf := make([]byte, 4096)
	if err := t.pt.SendRaw(ctx, cmd.encode(), buf, true, secureCommandTimeout); err != nil {
		return nil, "", err
	}
	// NVMe Identify Controller data structure: SN field is bytes 4..24, ASCII.
	serial = make([]byte, 20)
	copy(serial, buf[4:24])
	// MN field is bytes 24..64, ASCII, not byte-swapped.
	modelRaw := make([]byte, 40)
	copy(modelRaw, buf[24:64])
	model = strings.TrimRight(string(modelRaw), " \x00")
	return serial, model, nil
}

func (t *NVMeTransport) SecureSend(ctx context.Context, protocol uint8, comID uint16, data []byte) error {
	cmd := nvmeCmd{
		opcode: nvmeCmdSecuritySend,
		cdw10:  uint32(protocol)<<24 | uint32(comID)<<8,
		cdw11:  uint32(len(data)),
	}
	if err := t.pt.SendRaw(ctx, cmd.encode(), data, false, secureCommandTimeout); err != nil {
		return fmt.Errorf("%w: NVMe Security Send: %v", errs.ErrIo, err)
	}
	return nil
}

func (t *NVMeTransport) SecureRecv(ctx context.Context, protocol uint8, comID uint16, buffer []byte) error {
	cmd := nvmeCmd{
		opcode: nvmeCmdSecurityRecv,
		cdw10:  uint32(protocol)<<24 | uint32(comID)<<8,
		cdw11:  uint32(len(buffer)),
	}
	if err := t.pt.SendRaw(ctx, cmd.encode(), buffer, true, secureCommandTimeout); err != nil {
		return fmt.Errorf("%w: NVMe Security Receive: %v", errs.ErrIo, err)
	}
	return nil
}

func (t *NVMeTransport) Reconnect(ctx context.Context) error { return t.pt.Reconnect(ctx) }
func (t *NVMeTransport) Align() int                          { return t.pt.Align() }
func (t *NVMeTransport) SerialNum() []byte                   { return t.serial }
func (t *NVMeTransport) ModelNumber() string                 { return t.model }
