package modbus

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderLen is the size of the MBAP header.
	HeaderLen = 7

	FuncReadHoldingRegisters byte = 0x03
	FuncWriteSingleRegister  byte = 0x06

	exceptionFlag byte = 0x80
	// maxReadCount is the protocol limit for a single read holding request.
	maxReadCount = 125
)

// Header is the MBAP header preceding every request and reply.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	// Length counts the unit identifier plus the PDU bytes that follow.
	Length uint16
	UnitID byte
}

// PDULen returns the number of bytes following the header.
func (h Header) PDULen() int { return int(h.Length) - 1 }

// ReadHoldingPDU builds the PDU of a read holding registers request.
func ReadHoldingPDU(start, count uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(pdu[1:3], start)
	binary.BigEndian.PutUint16(pdu[3:5], count)
	return pdu
}

// WriteSinglePDU builds the PDU of a write single register request.
func WriteSinglePDU(addr, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = FuncWriteSingleRegister
	binary.BigEndian.PutUint16(pdu[1:3], addr)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

// EncodeRequest prefixes pdu with an MBAP header.
func EncodeRequest(txID uint16, unitID byte, pdu []byte) []byte {
	buf := make([]byte, HeaderLen+len(pdu))
	binary.BigEndian.PutUint16(buf[0:2], txID)
	binary.BigEndian.PutUint16(buf[2:4], 0)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(pdu)+1))
	buf[6] = unitID
	copy(buf[HeaderLen:], pdu)
	return buf
}

// DecodeHeader parses an MBAP header. A length below 2 cannot carry a
// function code and is rejected.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: header has %d bytes", ErrFraming, len(b))
	}
	h := Header{
		TransactionID: binary.BigEndian.Uint16(b[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(b[2:4]),
		Length:        binary.BigEndian.Uint16(b[4:6]),
		UnitID:        b[6],
	}
	if h.Length < 2 {
		return h, fmt.Errorf("%w: length %d", ErrFraming, h.Length)
	}
	return h, nil
}

// DecodeReadReply extracts count registers from a read holding registers
// reply PDU.
func DecodeReadReply(pdu []byte, count uint16) ([]uint16, error) {
	if err := checkFunction(pdu, FuncReadHoldingRegisters); err != nil {
		return nil, err
	}
	if len(pdu) < 2 {
		return nil, fmt.Errorf("%w: read reply has %d bytes", ErrFraming, len(pdu))
	}
	byteCount := int(pdu[1])
	if byteCount != int(count)*2 || len(pdu) < 2+byteCount {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrFraming, byteCount, count)
	}
	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(pdu[2+2*i:])
	}
	return regs, nil
}

// DecodeWriteReply validates a write single register reply PDU.
func DecodeWriteReply(pdu []byte) error {
	if err := checkFunction(pdu, FuncWriteSingleRegister); err != nil {
		return err
	}
	if len(pdu) < 5 {
		return fmt.Errorf("%w: write reply has %d bytes", ErrFraming, len(pdu))
	}
	return nil
}

func checkFunction(pdu []byte, fc byte) error {
	if len(pdu) == 0 {
		return fmt.Errorf("%w: empty reply", ErrFraming)
	}
	switch pdu[0] {
	case fc:
		return nil
	case fc | exceptionFlag:
		code := byte(0)
		if len(pdu) > 1 {
			code = pdu[1]
		}
		return fmt.Errorf("%w: exception 0x%02x for function 0x%02x", ErrFraming, code, fc)
	default:
		return fmt.Errorf("%w: function 0x%02x, want 0x%02x", ErrFraming, pdu[0], fc)
	}
}
