// Package connection implements the streaming market data Connection.
//
// A Connection owns exactly one WebSocket and drives it through
//
//	Idle → Connecting → Open → Authenticating → Active → Closing → Closed
//
// Connect dials, starts the receive loop and sends the authentication frame;
// it does not wait for the venue's acknowledgement, which arrives later as a
// success or error event. Transport failures move straight to Closed. Closed
// is terminal: callers build a new Connection to reconnect, and subscriptions
// are not replayed.
//
// The receive loop is the only reader of the socket. Data frames are written
// only through the send path, which is serialized by a mutex; control frames
// (ping, close) use gorilla's concurrency-safe WriteControl.
package connection
