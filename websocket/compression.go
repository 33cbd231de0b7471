// Compression support for WebSocket permessage-deflate extension (RFC 7692).
// This extension uses the DEFLATE algorithm (RFC 1951) to compress message payloads.
package websocket

import (
	"bytes"
	"compress/flate"
	"io"
	"sync"
)

// Compression level constants for DEFLATE (RFC 1951).
const (
	minCompressionLevel     = -2
	maxCompressionLevel     = 9
	defaultCompressionLevel = 1
)

// Window-bits bounds for permessage-deflate (RFC 7692, section 7.1.2.1).
// The Go standard library's flate implementation always operates with a
// fixed 32 KiB window; these bounds are tracked and echoed during
// negotiation for protocol compliance; they do not change codec behavior.
const (
	minWindowBits     = 8
	maxWindowBits     = 15
	defaultWindowBits = 15
)

// defaultMaxDecompressSize bounds how much inflated data decompress will
// produce from a single message, guarding against decompression-bomb
// payloads from a misbehaving or hostile peer.
const defaultMaxDecompressSize = 16 * 1024 * 1024

// deflateHistorySize is the sliding-window size carried forward between
// messages when context takeover is enabled (RFC 7692, section 7.1.1).
const deflateHistorySize = 32 * 1024

// deflateParams holds the negotiated permessage-deflate parameters for one
// connection (RFC 7692, section 7.1). Context takeover and window bits are
// negotiated independently for each direction: "client" parameters govern
// messages sent from client to server, "server" parameters govern messages
// sent from server to client.
type deflateParams struct {
	serverNoContextTakeover bool
	clientNoContextTakeover bool
	serverMaxWindowBits     int
	clientMaxWindowBits     int
	maxDecompressSize       int64
}

func defaultDeflateParams() deflateParams {
	return deflateParams{
		serverMaxWindowBits: defaultWindowBits,
		clientMaxWindowBits: defaultWindowBits,
		maxDecompressSize:   defaultMaxDecompressSize,
	}
}

func clampWindowBits(bits int) int {
	switch {
	case bits < minWindowBits:
		return minWindowBits
	case bits > maxWindowBits:
		return maxWindowBits
	default:
		return bits
	}
}

var (
	flateReaderPool sync.Pool
	flateWriterPool sync.Pool
)

func getFlateWriter(w io.Writer, level int) *flate.Writer {
	fw, ok := flateWriterPool.Get().(*flate.Writer)
	if ok && fw != nil {
		fw.Reset(w)
		return fw
	}
	fw, _ = flate.NewWriter(w, level)
	return fw
}

func putFlateWriter(fw *flate.Writer) {
	flateWriterPool.Put(fw)
}

func getFlateReader(r io.Reader) io.ReadCloser {
	fr, ok := flateReaderPool.Get().(io.ReadCloser)
	if ok && fr != nil {
		if resetter, ok := fr.(flate.Resetter); ok {
			_ = resetter.Reset(r, nil)
			return fr
		}
	}
	return flate.NewReader(r)
}

func putFlateReader(fr io.ReadCloser) {
	flateReaderPool.Put(fr)
}

// deflateWriter compresses one direction of a connection's messages per
// RFC 7692. When noContextTakeover is false, the DEFLATE sliding window
// persists across messages by reusing the same flate.Writer without
// resetting it, each message ending in a sync flush; when true, a fresh
// writer (and so a fresh window) is used for every message.
type deflateWriter struct {
	mu                sync.Mutex
	level             int
	noContextTakeover bool
	fw                *flate.Writer
	buf               bytes.Buffer
}

func newDeflateWriter(level int, noContextTakeover bool) *deflateWriter {
	return &deflateWriter{level: level, noContextTakeover: noContextTakeover}
}

// compress returns the deflated form of data with the trailing
// 0x00 0x00 0xff 0xff marker removed, per RFC 7692, section 7.2.1.
func (dw *deflateWriter) compress(data []byte) ([]byte, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if dw.fw == nil {
		dw.fw = getFlateWriter(&dw.buf, dw.level)
	}
	dw.buf.Reset()

	if _, err := dw.fw.Write(data); err != nil {
		return nil, err
	}
	if err := dw.fw.Flush(); err != nil {
		return nil, err
	}

	out := dw.buf.Bytes()
	if len(out) >= 4 {
		out = out[:len(out)-4]
	}
	result := make([]byte, len(out))
	copy(result, out)

	if dw.noContextTakeover {
		putFlateWriter(dw.fw)
		dw.fw = nil
	}

	return result, nil
}

func (dw *deflateWriter) close() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.fw != nil {
		putFlateWriter(dw.fw)
		dw.fw = nil
	}
}

// deflateReader decompresses one direction of a connection's messages per
// RFC 7692, enforcing maxSize as a guard against decompression-bomb
// payloads. When context takeover is enabled it carries the trailing
// deflateHistorySize bytes of previously decompressed output forward as a
// preset dictionary, reconstructing the sliding window a context-takeover
// peer's encoder assumed was still live.
type deflateReader struct {
	mu                sync.Mutex
	noContextTakeover bool
	maxSize           int64
	history           []byte
}

func newDeflateReader(noContextTakeover bool, maxSize int64) *deflateReader {
	if maxSize <= 0 {
		maxSize = defaultMaxDecompressSize
	}
	return &deflateReader{noContextTakeover: noContextTakeover, maxSize: maxSize}
}

func (dr *deflateReader) decompress(data []byte) ([]byte, error) {
	dr.mu.Lock()
	defer dr.mu.Unlock()

	// The restored tail is followed by a final empty stored block so the
	// DEFLATE stream ends cleanly instead of with an unexpected EOF.
	src := io.MultiReader(&byteReader{data: data}, suffixReader{}, bytes.NewReader([]byte{0x01, 0x00, 0x00, 0xff, 0xff}))

	var dict []byte
	if !dr.noContextTakeover {
		dict = dr.history
	}
	fr := flate.NewReaderDict(src, dict)
	defer fr.Close()

	out, err := io.ReadAll(io.LimitReader(fr, dr.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > dr.maxSize {
		return nil, ErrMessageTooLarge
	}

	if !dr.noContextTakeover {
		dr.history = trailingWindow(dr.history, out, deflateHistorySize)
	}

	return out, nil
}

func (dr *deflateReader) close() {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	dr.history = nil
}

func trailingWindow(prevHistory, out []byte, max int) []byte {
	combined := append(append([]byte(nil), prevHistory...), out...)
	if len(combined) > max {
		combined = combined[len(combined)-max:]
	}
	return combined
}

// compressData and decompressData perform one-shot, stateless
// permessage-deflate compression with no context takeover between calls.
// They back PreparedMessage, whose frames are cached independent of any
// single connection's negotiated parameters.
func compressData(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	fw := getFlateWriter(&buf, level)
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	// A sync flush ends the output with the 0x00 0x00 0xff 0xff marker
	// stripped below.
	if err := fw.Flush(); err != nil {
		return nil, err
	}
	putFlateWriter(fw)

	out := buf.Bytes()
	if len(out) >= 4 {
		out = out[:len(out)-4]
	}
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func decompressData(data []byte) ([]byte, error) {
	// The restored tail is followed by a final empty stored block so the
	// DEFLATE stream ends cleanly instead of with an unexpected EOF.
	src := io.MultiReader(&byteReader{data: data}, suffixReader{}, bytes.NewReader([]byte{0x01, 0x00, 0x00, 0xff, 0xff}))
	fr := getFlateReader(src)
	defer putFlateReader(fr)
	return io.ReadAll(fr)
}

// suffixReader appends the DEFLATE empty block suffix (0x00 0x00 0xff 0xff)
// required by RFC 7692, section 7.2.2 for decompression.
type suffixReader struct{}

func (suffixReader) Read(p []byte) (int, error) {
	if len(p) < 4 {
		return 0, io.ErrShortBuffer
	}
	p[0] = 0x00
	p[1] = 0x00
	p[2] = 0xff
	p[3] = 0xff
	return 4, io.EOF
}

type byteReader struct {
	data []byte
	pos  int
}

func (br *byteReader) Read(p []byte) (int, error) {
	if br.pos >= len(br.data) {
		return 0, io.EOF
	}
	n := copy(p, br.data[br.pos:])
	br.pos += n
	return n, nil
}
