// Package ws streams terminal sessions over WebSocket.
//
// A connection to /terminals/:id/stream subscribes to the session's output.
// Several connections may watch the same session; a connection that cannot
// keep up is dropped rather than slowing the shell down.
//
// Frames (Server → Client):
//   - binary: raw terminal output
//   - exit: the shell ended, with code and signal
//   - error: a rejected frame, or notice that the client was dropped
//   - pong: reply to ping
//
// Frames (Client → Server):
//   - binary: raw terminal input
//   - input: {"type":"input","data":"ls\n"}
//   - resize: {"type":"resize","cols":120,"rows":40}
//   - ping: keepalive
package ws
