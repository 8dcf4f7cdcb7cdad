// Package session implements the transport carrying replication messages
// between a directory server and a replication server.
//
// # Framing
//
// Each message travels in one frame: its length as eight lowercase
// hexadecimal digits followed by the encoded message. Messages are encoded
// and decoded at the protocol version negotiated during the start
// handshake.
//
// # Lifecycle
//
// A session starts encrypted (NewClientSession, NewServerSession) or plain
// (NewPlainSession). During the handshake, Publish writes synchronously.
// Once both sides agreed on a version and on whether to keep TLS:
//
//	s.SetProtocolVersion(protocol.Compatible(peerVersion))
//	if !sslRequested {
//	    s.StopEncryption()
//	}
//	s.StartSender()
//
// After StartSender, Publish enqueues into a bounded queue drained by a
// single goroutine, so frames leave in publish order. Receive must only be
// called from one goroutine.
//
// Close sends a StopMsg from V4 on unless an I/O error was seen, closes
// the connection and waits for the sender. Publishers blocked on a full
// queue return ErrSessionClosed.
//
// # Heartbeats
//
// HeartbeatPublisher sends a HeartbeatMsg when the session was idle for one
// interval; HeartbeatMonitor closes a session whose peer was silent for
// MissedHeartbeats intervals.
package session
