package server

import (
	"crypto/tls"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// Defaults applied by New.
const (
	DefaultListenAddress     = ":8989"
	DefaultWindowSize        = 100
	DefaultDegradedThreshold = 5000
	DefaultWeight            = 1
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultAssuredTimeout    = 2 * time.Second
	DefaultForwardQueue      = 1000
)

// Config describes a replication server.
type Config struct {
	ServerID      int
	ListenAddress string
	// ServerURL is advertised in start messages. Defaults to the listen
	// address.
	ServerURL string
	BaseDN    string

	GroupID           int8
	GenerationID      int64
	WindowSize        int
	DegradedThreshold int
	Weight            int

	// SSLEncryption keeps sessions encrypted after the handshake.
	SSLEncryption bool
	// TLS makes every accepted connection start with a TLS handshake.
	TLS *tls.Config

	HandshakeTimeout time.Duration
	AssuredTimeout   time.Duration

	// HeartbeatInterval is used when a directory server asks for none.
	HeartbeatInterval time.Duration

	// ForwardQueue bounds the updates waiting to be sent to one peer.
	ForwardQueue  int
	QueueCapacity int
	MaxFrameSize  int

	Logger logging.Logger
}

func (c Config) withDefaults() Config {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.DegradedThreshold == 0 {
		c.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.Weight <= 0 {
		c.Weight = DefaultWeight
	}
	if c.GroupID == 0 {
		c.GroupID = protocol.DefaultGroupID
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.AssuredTimeout <= 0 {
		c.AssuredTimeout = DefaultAssuredTimeout
	}
	if c.ForwardQueue <= 0 {
		c.ForwardQueue = DefaultForwardQueue
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	return c
}
