package websocket

import (
	"fmt"
	"strconv"
	"strings"
)

// Extension is the hook a connection's single negotiated extension plugs
// into. It generalizes the teacher's inline compression handling
// (writeCompress/compressionEnabled fields baked straight into Conn) into a
// pipeline seam so a per-message transform can be swapped or omitted
// without touching the frame read/write path.
//
// permessageDeflate (below) is the only implementation; Conn holds at most
// one Extension (Conn.ext), nil-checked before use, since a connection
// negotiates at most one permessage-deflate instance per RFC 7692.
type Extension interface {
	// Name returns the Sec-WebSocket-Extensions token this extension
	// registers under, e.g. "permessage-deflate".
	Name() string

	// Offer returns the extension offer to place in an outgoing client
	// handshake's Sec-WebSocket-Extensions header.
	Offer() string

	// Negotiate computes a server's response to a client's offered
	// parameters, adopting them for this connection. role is the role of
	// the side calling Negotiate.
	Negotiate(offered map[string]string, role Role) (response string, err error)

	// Activate adopts the parameters a server returned in its handshake
	// response, from the client side.
	Activate(response map[string]string) error

	// ProcessOutgoingMessage transforms an outgoing message payload before
	// framing, returning whether RSV1 should be set on the frame.
	ProcessOutgoingMessage(payload []byte) (out []byte, rsv1 bool, err error)

	// ProcessIncomingMessage transforms a complete, reassembled incoming
	// message payload. rsv1 reports whether the message's first frame had
	// RSV1 set.
	ProcessIncomingMessage(payload []byte, rsv1 bool) (out []byte, err error)

	// Close releases any resources (pooled compressors, buffers) held by
	// the extension for the lifetime of the connection.
	Close() error
}

const permessageDeflateName = "permessage-deflate"

// permessageDeflate implements Extension for RFC 7692 permessage-deflate.
// It lazily creates its writer/reader on first use, since a connection may
// negotiate compression but never actually send or receive a compressed
// message.
type permessageDeflate struct {
	role   Role
	level  int
	params deflateParams

	writer *deflateWriter
	reader *deflateReader
}

func newPermessageDeflate(role Role, level int) *permessageDeflate {
	return &permessageDeflate{role: role, level: level, params: defaultDeflateParams()}
}

func (p *permessageDeflate) Name() string { return permessageDeflateName }

// Offer returns a bare offer with no parameters: per RFC 7692, section 5,
// an empty parameter list lets the server pick any values it supports.
func (p *permessageDeflate) Offer() string {
	return permessageDeflateName
}

// Negotiate parses a client's offered parameters and chooses a response no
// more aggressive than what was offered, per RFC 7692, section 7.1.2.
func (p *permessageDeflate) Negotiate(offered map[string]string, role Role) (string, error) {
	p.role = role
	params := defaultDeflateParams()

	if _, ok := offered["server_no_context_takeover"]; ok {
		params.serverNoContextTakeover = true
	}
	if _, ok := offered["client_no_context_takeover"]; ok {
		params.clientNoContextTakeover = true
	}
	if v, ok := offered["server_max_window_bits"]; ok {
		bits, err := parseWindowBits(v)
		if err != nil {
			return "", err
		}
		params.serverMaxWindowBits = clampWindowBits(bits)
	}
	// A bare client_max_window_bits (no value) only signals support; the
	// default window stands.
	if v, ok := offered["client_max_window_bits"]; ok && v != "" {
		bits, err := parseWindowBits(v)
		if err != nil {
			return "", err
		}
		params.clientMaxWindowBits = clampWindowBits(bits)
	}
	p.params = params

	tokens := []string{permessageDeflateName}
	if params.serverNoContextTakeover {
		tokens = append(tokens, "server_no_context_takeover")
	}
	if params.clientNoContextTakeover {
		tokens = append(tokens, "client_no_context_takeover")
	}
	tokens = append(tokens, fmt.Sprintf("server_max_window_bits=%d", params.serverMaxWindowBits))
	if _, ok := offered["client_max_window_bits"]; ok {
		tokens = append(tokens, fmt.Sprintf("client_max_window_bits=%d", params.clientMaxWindowBits))
	}

	return strings.Join(tokens, "; "), nil
}

// Activate adopts the parameters a server returned in its handshake
// response, called from the client side after a successful dial.
func (p *permessageDeflate) Activate(response map[string]string) error {
	params := p.params
	if _, ok := response["server_no_context_takeover"]; ok {
		params.serverNoContextTakeover = true
	}
	if _, ok := response["client_no_context_takeover"]; ok {
		params.clientNoContextTakeover = true
	}
	if v, ok := response["server_max_window_bits"]; ok {
		bits, err := parseWindowBits(v)
		if err != nil {
			return err
		}
		params.serverMaxWindowBits = clampWindowBits(bits)
	}
	if v, ok := response["client_max_window_bits"]; ok {
		bits, err := parseWindowBits(v)
		if err != nil {
			return err
		}
		params.clientMaxWindowBits = clampWindowBits(bits)
	}
	p.params = params
	return nil
}

func parseWindowBits(v string) (int, error) {
	bits, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("websocket: invalid window bits %q: %w", v, err)
	}
	return bits, nil
}

func (p *permessageDeflate) writeNoContextTakeover() bool {
	if p.role == RoleServer {
		return p.params.serverNoContextTakeover
	}
	return p.params.clientNoContextTakeover
}

func (p *permessageDeflate) readNoContextTakeover() bool {
	if p.role == RoleServer {
		return p.params.clientNoContextTakeover
	}
	return p.params.serverNoContextTakeover
}

// ProcessOutgoingMessage compresses payload per RFC 7692, section 7.2.1.
func (p *permessageDeflate) ProcessOutgoingMessage(payload []byte) ([]byte, bool, error) {
	if p.writer == nil {
		p.writer = newDeflateWriter(p.level, p.writeNoContextTakeover())
	}
	out, err := p.writer.compress(payload)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// ProcessIncomingMessage inflates payload when rsv1 is set, per RFC 7692,
// section 7.2.2. A message received with RSV1 clear was never compressed
// and passes through unchanged.
func (p *permessageDeflate) ProcessIncomingMessage(payload []byte, rsv1 bool) ([]byte, error) {
	if !rsv1 {
		return payload, nil
	}
	if p.reader == nil {
		p.reader = newDeflateReader(p.readNoContextTakeover(), p.params.maxDecompressSize)
	}
	return p.reader.decompress(payload)
}

func (p *permessageDeflate) Close() error {
	if p.writer != nil {
		p.writer.close()
	}
	if p.reader != nil {
		p.reader.close()
	}
	return nil
}
