// Package logging provides structured logging for the replication server
// and broker.
//
// # Creating a Logger
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/obarepl/obarepl.log",
//	})
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stdout
//
// For testing, use a no-op logger:
//
//	logger := logging.NewNop()
//
// # Structured Logging
//
// Key-value pairs follow the message:
//
//	logger.Info("session established",
//	    "peer", "rs1.example.com:8989",
//	    "protocol_version", 8,
//	    "ssl", false,
//	)
//
// # Sessions
//
// Each replication session gets its own child logger carrying a unique
// identifier, so every line a session emits can be correlated:
//
//	sessLogger := logger.Named("session").WithRequestID(logging.GenerateRequestID())
//
// The Logger is backed by hclog and is safe for concurrent use.
package logging
