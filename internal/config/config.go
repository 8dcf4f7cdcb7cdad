package config

import "time"

// Config is the configuration of a replication process. The same file
// serves the replication server and the directory server side tools.
type Config struct {
	Replication ReplicationConfig `yaml:"replication"`
	TLS         TLSConfig         `yaml:"tls"`
	Logging     LogConfig         `yaml:"logging"`
}

// ReplicationConfig holds the replication settings.
type ReplicationConfig struct {
	ServerID int    `yaml:"serverId"`
	Listen   string `yaml:"listen"`
	// ServerURL is advertised to peers. Empty means the listen address.
	ServerURL    string `yaml:"serverUrl"`
	BaseDN       string `yaml:"baseDN"`
	GroupID      int    `yaml:"groupId"`
	GenerationID int64  `yaml:"generationId"`

	WindowSize        int           `yaml:"windowSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	DegradedThreshold int           `yaml:"degradedThreshold"`
	Weight            int           `yaml:"weight"`
	AssuredTimeout    time.Duration `yaml:"assuredTimeout"`
	HandshakeTimeout  time.Duration `yaml:"handshakeTimeout"`
	SSLEncryption     bool          `yaml:"sslEncryption"`

	// Servers lists the replication servers tried by directory server
	// side commands, in order.
	Servers []string `yaml:"servers"`

	ForwardQueue    int `yaml:"forwardQueue"`
	QueueCapacity   int `yaml:"queueCapacity"`
	MaxFrameSize    int `yaml:"maxFrameSize"`
	ProtocolVersion int `yaml:"protocolVersion"`
}

// TLSConfig holds the TLS settings of replication sessions.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	CAFile             string `yaml:"caFile"`
	MinVersion         string `yaml:"minVersion"`
	MaxVersion         string `yaml:"maxVersion"`
	ServerName         string `yaml:"serverName"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	RequireClientCert  bool   `yaml:"requireClientCert"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
