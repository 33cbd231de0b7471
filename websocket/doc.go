// Package websocket implements a WebSocket (RFC 6455) endpoint usable in
// both client and server roles, together with the negotiated
// permessage-deflate compression extension (RFC 7692) and an event-driven
// connection layered on top: heartbeat liveness, auto-reconnect, and a
// broadcast registry.
//
// Two API layers are provided:
//
//   - The low-level, synchronous Conn (ReadMessage/WriteMessage/NextReader/
//     NextWriter/WriteJSON/ReadJSON/WriteControl/WritePreparedMessage),
//     produced by Upgrader.Upgrade on the server and Dialer.Dial on the
//     client. One goroutine may read, one may write, concurrently.
//   - The event-driven Connection (NewConnection, AttachToServer), which
//     owns a Conn's reader and writer goroutines and exposes a typed Event
//     channel plus Send/SendPing/SendPong/Heartbeat/Close.
//
// Low-level server example:
//
//	var upgrader = websocket.Upgrader{
//	    ReadBufferSize:  1024,
//	    WriteBufferSize: 1024,
//	}
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    conn, err := upgrader.Upgrade(w, r, nil)
//	    if err != nil {
//	        return
//	    }
//	    defer conn.Close()
//
//	    for {
//	        messageType, p, err := conn.ReadMessage()
//	        if err != nil {
//	            return
//	        }
//	        if err := conn.WriteMessage(messageType, p); err != nil {
//	            return
//	        }
//	    }
//	}
//
// Event-driven server example:
//
//	registry := websocket.NewRegistry()
//	websocket.AttachToServer(mux, "/ws", websocket.AttachOptions{
//	    Registry:          registry,
//	    HeartbeatInterval: 30 * time.Second,
//	    OnConnect: func(c *websocket.Connection) {
//	        go func() {
//	            for ev := range c.Events() {
//	                if ev.Type == websocket.EventMessage {
//	                    registry.Broadcast(ev.Data, ev.IsBinary)
//	                }
//	            }
//	        }()
//	    },
//	})
//
// Low-level client example:
//
//	conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:8080/ws", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	err = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Concurrency:
//
// Conn supports one concurrent reader and one concurrent writer; applications
// using the low-level API must not call read methods from two goroutines
// concurrently, nor write methods from two goroutines concurrently. Close may
// be called concurrently with either. Connection manages this internally:
// Send/SendPing/SendPong/Close are safe to call from any goroutine.
//
// Origin checking:
//
// Web browsers allow any site to open a WebSocket connection to any other
// site. The server must validate the Origin header to prevent attacks. The
// Upgrader calls the CheckOrigin function to validate the request origin. If
// CheckOrigin is nil, the Upgrader uses a safe default that rejects
// cross-origin requests.
//
// Compression:
//
// Per-message compression is negotiated during the handshake when
// EnableCompression is set on the Upgrader or Dialer. The accepted
// permessage-deflate parameters (context takeover, window bits) are
// negotiated per RFC 7692 rather than fixed; see Extension and
// compression.go.
package websocket
