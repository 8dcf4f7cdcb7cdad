package config

import "time"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Replication: ReplicationConfig{
			ServerID:          1,
			Listen:            ":8989",
			GroupID:           1,
			WindowSize:        100,
			HeartbeatInterval: 10 * time.Second,
			DegradedThreshold: 5000,
			Weight:            1,
			AssuredTimeout:    2 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			ForwardQueue:      1000,
			QueueCapacity:     1000,
			MaxFrameSize:      64 * 1024 * 1024,
			ProtocolVersion:   8,
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
			MaxVersion: "1.3",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
