package broker

import (
	"crypto/tls"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/csn"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// Defaults applied by Dial.
const (
	DefaultWindowSize          = 100
	DefaultHeartbeatInterval   = 10 * time.Second
	DefaultAssuredTimeout      = 2 * time.Second
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultWindowProbeInterval = time.Second
	DefaultUpdateBuffer        = 100
)

// Config describes a directory server connecting to a replication server.
type Config struct {
	// ServerID identifies this directory server in the topology.
	ServerID int
	// BaseDN is the replicated suffix.
	BaseDN string
	// ServerURL is the address advertised to the replication server.
	ServerURL string
	// ReplicationServer is the host:port to connect to.
	ReplicationServer string

	GroupID      int8
	GenerationID int64

	// WindowSize is the number of updates the replication server may send
	// before waiting for credit.
	WindowSize int

	// HeartbeatInterval is requested from the replication server and used
	// for the change time heartbeats we send. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// SSLEncryption keeps the session encrypted after the handshake.
	SSLEncryption bool
	// TLS starts the session with a TLS handshake when set.
	TLS *tls.Config

	// ProtocolVersion is the highest version offered. Zero means
	// protocol.CurrentVersion.
	ProtocolVersion protocol.ProtocolVersion

	AssuredTimeout      time.Duration
	HandshakeTimeout    time.Duration
	WindowProbeInterval time.Duration
	MonitorTTL          time.Duration

	ReferralURLs          []string
	EclIncludes           []string
	EclIncludesForDeletes []string

	// UpdateBuffer is the capacity of the Updates channel.
	UpdateBuffer  int
	QueueCapacity int
	MaxFrameSize  int

	// State is the initial server state. It is updated with every update
	// published or received.
	State *csn.ServerState

	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 0
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = protocol.CurrentVersion
	}
	if c.AssuredTimeout <= 0 {
		c.AssuredTimeout = DefaultAssuredTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WindowProbeInterval <= 0 {
		c.WindowProbeInterval = DefaultWindowProbeInterval
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = DefaultUpdateBuffer
	}
	if c.State == nil {
		c.State = csn.NewServerState()
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	return c
}
