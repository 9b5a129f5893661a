package opal

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/oberien/opal-uefi-greeter/internal/errs"
	"github.com/oberien/opal-uefi-greeter/internal/secureproto"
)

// Wire layout of the three nested TCG Storage Core framing headers this
// loader builds and parses: ComPacket (20-byte header), Packet (24-byte
// header), SubPacket (12-byte header, kind 0 = Data).
const (
	comPacketHeaderLen = 20
	packetHeaderLen    = 24
	subPacketHeaderLen = 12

	subPacketKindData = 0
)

// secureProtocolID is the TCG security protocol number for Opal's
// tokenized session-layer traffic (as opposed to protocol 1, discovery).
const secureProtocolID = 0x01

// busyRetryAttempts/busyRetryDelay bound exchange's poll loop on responses
// that report outstanding data but carry no payload yet, observed from some
// Enterprise-class controllers during StartSession negotiation; without a
// bound a wedged controller would hang resolution forever. A non-SUCCESS
// method status (SP_BUSY included) is not retried here.
const (
	busyRetryAttempts = 3
	busyRetryDelay    = 50 * time.Millisecond
)

// buildComPacket wraps a single method-call token stream in
// ComPacket/Packet/SubPacket headers, all zero-padded to a multiple of 4
// bytes as the spec requires of every layer's payload.
func buildComPacket(comID uint16, tsn, hsn uint32, payload []byte) []byte {
	padded := pad4(payload)

	subPacket := make([]byte, subPacketHeaderLen+len(padded))
	binary.BigEndian.PutUint16(subPacket[6:8], subPacketKindData)
	binary.BigEndian.PutUint32(subPacket[8:12], uint32(len(padded)))
	copy(subPacket[subPacketHeaderLen:], padded)
	subPacket = pad4(subPacket)

	packet := make([]byte, packetHeaderLen+len(subPacket))
	binary.BigEndian.PutUint32(packet[0:4], tsn)
	binary.BigEndian.PutUint32(packet[4:8], hsn)
	binary.BigEndian.PutUint32(packet[20:24], uint32(len(subPacket)))
	copy(packet[packetHeaderLen:], subPacket)
	packet = pad4(packet)

	comPacket := make([]byte, comPacketHeaderLen+len(packet))
	binary.BigEndian.PutUint16(comPacket[4:6], comID)
	binary.BigEndian.PutUint32(comPacket[16:20], uint32(len(packet)))
	copy(comPacket[comPacketHeaderLen:], packet)
	return comPacket
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// parsedComPacket is the result of unwrapping a received ComPacket down to
// the raw method-response token stream, along with the TPer-assigned
// session numbers this exchange used (needed to learn the TSN on the
// StartSession response).
type parsedComPacket struct {
	tsn             uint32
	hsn             uint32
	outstandingData uint32
	payload         []byte
}

func parseComPacket(buf []byte) (parsedComPacket, error) {
	if len(buf) < comPacketHeaderLen {
		return parsedComPacket{}, fmt.Errorf("%w: ComPacket header truncated", errs.ErrIo)
	}
	outstanding := binary.BigEndian.Uint32(buf[8:12])
	length := binary.BigEndian.Uint32(buf[16:20])
	if comPacketHeaderLen+int(length) > len(buf) {
		return parsedComPacket{}, fmt.Errorf("%w: ComPacket payload truncated", errs.ErrIo)
	}
	packet := buf[comPacketHeaderLen : comPacketHeaderLen+int(length)]
	if len(packet) < packetHeaderLen {
		if outstanding > 0 {
			return parsedComPacket{outstandingData: outstanding}, nil
		}
		return parsedComPacket{}, fmt.Errorf("%w: Packet header truncated", errs.ErrIo)
	}
	tsn := binary.BigEndian.Uint32(packet[0:4])
	hsn := binary.BigEndian.Uint32(packet[4:8])
	subLength := binary.BigEndian.Uint32(packet[20:24])
	if packetHeaderLen+int(subLength) > len(packet) {
		return parsedComPacket{}, fmt.Errorf("%w: SubPacket payload truncated", errs.ErrIo)
	}
	subPacket := packet[packetHeaderLen : packetHeaderLen+int(subLength)]
	if len(subPacket) < subPacketHeaderLen {
		return parsedComPacket{tsn: tsn, hsn: hsn, outstandingData: outstanding}, nil
	}
	dataLength := binary.BigEndian.Uint32(subPacket[8:12])
	if subPacketHeaderLen+int(dataLength) > len(subPacket) {
		return parsedComPacket{}, fmt.Errorf("%w: SubPacket data truncated", errs.ErrIo)
	}
	return parsedComPacket{
		tsn:             tsn,
		hsn:             hsn,
		outstandingData: outstanding,
		payload:         subPacket[subPacketHeaderLen : subPacketHeaderLen+int(dataLength)],
	}, nil
}

// exchange sends one ComPacket on comID and polls secure_recv on the same
// ComID until the response carries a payload or its outstanding-data field
// reads zero, bounded by
// busyRetryAttempts so a wedged controller can't hang resolution forever.
func exchange(ctx context.Context, proto secureproto.SecureProtocol, comID uint16, tsn, hsn uint32, payload []byte) (parsedComPacket, error) {
	out := buildComPacket(comID, tsn, hsn, payload)
	if err := proto.SecureSend(ctx, secureProtocolID, comID, out); err != nil {
		return parsedComPacket{}, fmt.Errorf("opal send: %w", err)
	}

	respBuf := make([]byte, 4096)
	for attempt := 0; ; attempt++ {
		if err := proto.SecureRecv(ctx, secureProtocolID, comID, respBuf); err != nil {
			return parsedComPacket{}, fmt.Errorf("opal recv: %w", err)
		}
		parsed, err := parseComPacket(respBuf)
		if err != nil {
			return parsedComPacket{}, err
		}
		if parsed.outstandingData == 0 || len(parsed.payload) > 0 {
			return parsed, nil
		}
		if attempt >= busyRetryAttempts {
			return parsedComPacket{}, fmt.Errorf("%w: ComID %#x busy after %d attempts", errs.ErrIo, comID, busyRetryAttempts+1)
		}
		sleep(busyRetryDelay)
	}
}

// sleep is a package-level hook so tests can avoid real delays; production
// callers get a plain time.Sleep.
var sleep = time.Sleep
