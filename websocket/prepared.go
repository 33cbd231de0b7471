package websocket

import (
	"sync"
)

// PreparedMessage caches on-the-wire representations of a message payload.
// Use PreparedMessage to efficiently send a message payload to multiple connections.
type PreparedMessage struct {
	messageType int
	data        []byte
	mu          sync.Mutex
	frames      map[prepareKey]*preparedFrame
}

type prepareKey struct {
	isServer   bool
	compress   bool
	compressNo bool
}

type preparedFrame struct {
	data []byte
}

// NewPreparedMessage returns an initialized PreparedMessage.
func NewPreparedMessage(messageType int, data []byte) (*PreparedMessage, error) {
	if messageType != TextMessage && messageType != BinaryMessage {
		return nil, ErrInvalidMessageType
	}

	pm := &PreparedMessage{
		messageType: messageType,
		data:        data,
		frames:      make(map[prepareKey]*preparedFrame),
	}

	return pm, nil
}

func (pm *PreparedMessage) frame(key prepareKey) ([]byte, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pf, ok := pm.frames[key]; ok {
		return pf.data, nil
	}

	data := pm.data
	compressed := key.compress && !key.compressNo
	if compressed {
		out, err := compressData(data, defaultCompressionLevel)
		if err != nil {
			return nil, err
		}
		data = out
	}

	frameData := SerializeFrame(Frame{
		Fin:     true,
		Rsv1:    compressed,
		Opcode:  pm.messageType,
		Masked:  !key.isServer,
		Payload: data,
	})

	pm.frames[key] = &preparedFrame{data: frameData}
	return frameData, nil
}

// WritePreparedMessage writes pm to the connection.
func (c *Conn) WritePreparedMessage(pm *PreparedMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeErr != nil {
		return c.writeErr
	}

	key := prepareKey{
		isServer:   c.isServer,
		compress:   c.ext != nil && c.writeCompress,
		compressNo: c.ext == nil,
	}

	frameData, err := pm.frame(key)
	if err != nil {
		return err
	}

	_, err = c.rwc.Write(frameData)
	return err
}
