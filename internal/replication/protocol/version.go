package protocol

import "fmt"

// ProtocolVersion is the replication protocol version negotiated on a
// session.
type ProtocolVersion uint8

// Known protocol versions.
const (
	V1 ProtocolVersion = iota + 1
	V2
	V3
	V4
	V5
	V6
	V7
	V8

	// CurrentVersion is the newest version this implementation speaks.
	CurrentVersion = V8
)

// Compatible returns the version to use with a peer announcing peer.
func Compatible(peer ProtocolVersion) ProtocolVersion {
	if peer < CurrentVersion {
		return peer
	}
	return CurrentVersion
}

// Valid reports whether v is a known version.
func (v ProtocolVersion) Valid() bool {
	return v >= V1 && v <= CurrentVersion
}

// Wire returns the layout family used by messages at version v.
func (v ProtocolVersion) Wire() WireVersion {
	switch {
	case v <= V1:
		return WireV1
	case v <= V3:
		return WireV2V3
	default:
		return WireV4Plus
	}
}

// binaryCSN reports whether CSNs use the compact 14 byte form.
func (v ProtocolVersion) binaryCSN() bool {
	return v >= V7
}

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("V%d", uint8(v))
}

// WireVersion groups protocol versions sharing a message layout.
type WireVersion int

// Layout families.
const (
	WireV1 WireVersion = iota
	WireV2V3
	WireV4Plus

	numWireVersions
)

func (w WireVersion) String() string {
	switch w {
	case WireV1:
		return "V1"
	case WireV2V3:
		return "V2_V3"
	case WireV4Plus:
		return "V4+"
	default:
		return "unknown"
	}
}
