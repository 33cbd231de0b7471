package websocket

import (
	"encoding/binary"
	"errors"
	"io"
)

// Role identifies which side of a connection a component is acting as.
// Per RFC 6455, section 5.3, the two roles mask frames differently.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// ErrNeedMore indicates buf does not yet contain a complete frame; the
// caller should read more bytes from the socket and retry with a longer
// buffer. It is not a protocol error.
var ErrNeedMore = errors.New("websocket: need more data")

// ErrMaskMismatch indicates a frame's MASK bit does not match what the
// peer's role requires: client frames must be masked, server frames must
// not be (RFC 6455, section 5.1).
var ErrMaskMismatch = errors.New("websocket: mask bit does not match peer role")

// Frame is the atomic WebSocket wire unit (RFC 6455, section 5.2).
type Frame struct {
	Fin     bool
	Rsv1    bool // set for a permessage-deflate compressed message (RFC 7692)
	Rsv2    bool
	Rsv3    bool
	Opcode  int
	Masked  bool
	MaskKey [4]byte
	Payload []byte
}

// IsControl reports whether the frame carries a control opcode
// (Close, Ping, Pong) per RFC 6455, section 5.5.
func (f Frame) IsControl() bool {
	return f.Opcode >= CloseMessage
}

// ParseFrame decodes a single frame from the front of buf. On success it
// returns the decoded Frame and the number of bytes consumed. If buf does
// not yet hold a complete frame, it returns ErrNeedMore and the caller must
// retry once more bytes have arrived; no bytes are consumed in that case.
//
// selfRole is the role of the side doing the reading: pass RoleServer to
// require inbound frames to be masked (frames from a client), or
// RoleClient to require inbound frames to be unmasked (frames from a
// server), per RFC 6455, section 5.1.
func ParseFrame(buf []byte, selfRole Role, rsv1Allowed bool) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrNeedMore
	}

	b0, b1 := buf[0], buf[1]

	fr := Frame{
		Fin:    b0&finalBit != 0,
		Rsv1:   b0&rsv1Bit != 0,
		Rsv2:   b0&rsv2Bit != 0,
		Rsv3:   b0&rsv3Bit != 0,
		Opcode: int(b0 & opcodeMask),
	}

	if fr.Rsv2 || fr.Rsv3 || (fr.Rsv1 && !rsv1Allowed) {
		return Frame{}, 0, ErrReservedBits
	}

	switch fr.Opcode {
	case continuationFrame, TextMessage, BinaryMessage, CloseMessage, PingMessage, PongMessage:
	default:
		return Frame{}, 0, ErrInvalidOpcode
	}

	masked := b1&maskBit != 0
	fr.Masked = masked

	hdr := 2
	payloadLen := int64(b1 & payloadLenMask)

	switch payloadLen {
	case payloadLen16:
		if len(buf) < 4 {
			return Frame{}, 0, ErrNeedMore
		}
		payloadLen = int64(binary.BigEndian.Uint16(buf[2:4]))
		hdr = 4
	case payloadLen64:
		if len(buf) < 10 {
			return Frame{}, 0, ErrNeedMore
		}
		raw := binary.BigEndian.Uint64(buf[2:10])
		if raw&(1<<63) != 0 {
			// High bit MUST be zero per RFC 6455, section 5.2.
			return Frame{}, 0, ErrProtocolError
		}
		payloadLen = int64(raw)
		hdr = 10
	}

	if fr.IsControl() {
		if !fr.Fin {
			return Frame{}, 0, ErrFragmentedControlFrame
		}
		if payloadLen > maxControlFramePayloadSize {
			return Frame{}, 0, ErrControlFramePayloadTooBig
		}
	}

	maskLen := 0
	if masked {
		maskLen = 4
	}

	total := hdr + maskLen + int(payloadLen)
	if len(buf) < total {
		return Frame{}, 0, ErrNeedMore
	}

	if masked {
		copy(fr.MaskKey[:], buf[hdr:hdr+4])
	}

	// Reject masking mismatches per RFC 6455, section 5.1: frames from a
	// client must be masked, frames from a server must not be.
	switch selfRole {
	case RoleClient:
		if masked {
			return Frame{}, 0, ErrMaskMismatch
		}
	case RoleServer:
		if !masked {
			return Frame{}, 0, ErrMaskMismatch
		}
	}

	fr.Payload = make([]byte, payloadLen)
	copy(fr.Payload, buf[hdr+maskLen:total])
	if masked {
		maskBytes(fr.MaskKey[:], 0, fr.Payload)
	}

	return fr, total, nil
}

// PeekPayloadLength reads just enough of a frame header to report its
// payload length, without requiring the payload itself to be present. It
// lets a caller enforce SetReadLimit before buffering an attacker-claimed
// multi-gigabyte payload (RFC 6455, section 5.2 allows a 64-bit length).
func PeekPayloadLength(buf []byte) (payloadLen int64, err error) {
	if len(buf) < 2 {
		return 0, ErrNeedMore
	}
	payloadLen = int64(buf[1] & payloadLenMask)
	switch payloadLen {
	case payloadLen16:
		if len(buf) < 4 {
			return 0, ErrNeedMore
		}
		payloadLen = int64(binary.BigEndian.Uint16(buf[2:4]))
	case payloadLen64:
		if len(buf) < 10 {
			return 0, ErrNeedMore
		}
		raw := binary.BigEndian.Uint64(buf[2:10])
		if raw&(1<<63) != 0 {
			return 0, ErrProtocolError
		}
		payloadLen = int64(raw)
	}
	return payloadLen, nil
}

// SerializeFrame encodes fr per RFC 6455, section 5.2, choosing the 7/16/64
// bit length field by payload size (thresholds 125 / 65535 bytes per
// spec.md section 4.1). If fr.Masked is set and fr.MaskKey is the zero
// value, a fresh masking key is generated with a cryptographic RNG, as
// required of client-sent frames (RFC 6455, section 5.3).
func SerializeFrame(fr Frame) []byte {
	return AppendFrame(nil, fr)
}

// AppendFrame behaves like SerializeFrame but appends the wire bytes to
// dst, growing it as needed. It lets a caller reuse a scratch buffer (for
// example one drawn from a BufferPool) across many writes instead of
// allocating a fresh slice per frame.
func AppendFrame(dst []byte, fr Frame) []byte {
	var header [maxFrameHeaderSize]byte
	headerLen := 2

	b0 := byte(fr.Opcode)
	if fr.Fin {
		b0 |= finalBit
	}
	if fr.Rsv1 {
		b0 |= rsv1Bit
	}
	header[0] = b0

	payloadLen := len(fr.Payload)
	switch {
	case payloadLen <= 125:
		header[1] = byte(payloadLen)
	case payloadLen <= 65535:
		header[1] = payloadLen16
		binary.BigEndian.PutUint16(header[2:4], uint16(payloadLen))
		headerLen = 4
	default:
		header[1] = payloadLen64
		binary.BigEndian.PutUint64(header[2:10], uint64(payloadLen))
		headerLen = 10
	}

	data := fr.Payload
	if fr.Masked {
		header[1] |= maskBit
		maskKey := fr.MaskKey
		if maskKey == [4]byte{} {
			_, _ = io.ReadFull(randReader, maskKey[:])
		}
		copy(header[headerLen:], maskKey[:])
		headerLen += 4

		masked := make([]byte, len(data))
		copy(masked, data)
		maskBytes(maskKey[:], 0, masked)
		data = masked
	}

	dst = append(dst, header[:headerLen]...)
	dst = append(dst, data...)
	return dst
}
