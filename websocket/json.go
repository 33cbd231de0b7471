package websocket

import (
	"encoding/json"
	"errors"
	"io"
)

// WriteJSON writes the JSON encoding of v as a message.
func (c *Conn) WriteJSON(v any) error {
	w, err := c.NextWriter(TextMessage)
	if err != nil {
		return err
	}
	err = json.NewEncoder(w).Encode(v)
	if closeErr := w.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// ReadJSON reads the next JSON-encoded message from the connection and
// stores it in the value pointed to by v.
func (c *Conn) ReadJSON(v any) error {
	_, r, err := c.NextReader()
	if err != nil {
		return err
	}
	err = json.NewDecoder(r).Decode(v)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// SendJSON marshals v and sends it as a text message through the
// event-driven Connection (see statemachine.go), the JSON counterpart of Send.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data, false)
}

// DecodeMessageJSON unmarshals an EventMessage's payload into v. Use against
// values read from Connection.Events().
func DecodeMessageJSON(ev Event, v any) error {
	if ev.Type != EventMessage {
		return errors.New("websocket: event is not a message event")
	}
	return json.Unmarshal(ev.Data, v)
}
