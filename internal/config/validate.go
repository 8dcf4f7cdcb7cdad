package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/session"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error
	errs = append(errs, validateReplicationConfig(&config.Replication)...)
	errs = append(errs, validateTLSConfig(&config.TLS)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	return errs
}

func validateReplicationConfig(config *ReplicationConfig) []error {
	var errs []error
	invalid := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{
			Field:   "replication." + field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	// Server IDs travel as 16 bit values inside CSNs.
	if config.ServerID < 1 || config.ServerID > 65535 {
		invalid("serverId", "must be between 1 and 65535")
	}
	if config.Listen != "" {
		if err := validateAddress(config.Listen); err != nil {
			invalid("listen", "%v", err)
		}
	}
	if config.BaseDN == "" {
		invalid("baseDN", "is required")
	} else if err := validateDN(config.BaseDN); err != nil {
		invalid("baseDN", "%v", err)
	}
	if config.GroupID < 1 || config.GroupID > 127 {
		invalid("groupId", "must be between 1 and 127")
	}
	if config.WindowSize < 1 {
		invalid("windowSize", "must be positive")
	}
	if config.HeartbeatInterval < 0 {
		invalid("heartbeatInterval", "must not be negative")
	}
	if config.DegradedThreshold < 0 {
		invalid("degradedThreshold", "must not be negative")
	}
	if config.Weight < 1 {
		invalid("weight", "must be positive")
	}
	if config.AssuredTimeout <= 0 {
		invalid("assuredTimeout", "must be positive")
	}
	if config.HandshakeTimeout <= 0 {
		invalid("handshakeTimeout", "must be positive")
	}
	for i, addr := range config.Servers {
		if err := validateAddress(addr); err != nil {
			invalid(fmt.Sprintf("servers[%d]", i), "%v", err)
		}
	}
	if config.ForwardQueue < 0 {
		invalid("forwardQueue", "must not be negative")
	}
	if config.QueueCapacity < 0 {
		invalid("queueCapacity", "must not be negative")
	}
	if config.MaxFrameSize < 0 {
		invalid("maxFrameSize", "must not be negative")
	}
	if config.ProtocolVersion != 0 && !protocol.ProtocolVersion(config.ProtocolVersion).Valid() {
		invalid("protocolVersion", "must be between %d and %d", protocol.V1, protocol.CurrentVersion)
	}
	return errs
}

func validateTLSConfig(config *TLSConfig) []error {
	var errs []error

	if config.CertFile != "" || config.KeyFile != "" {
		if config.CertFile == "" {
			errs = append(errs, ValidationError{
				Field:   "tls.certFile",
				Message: "TLS certificate is required when TLS key is specified",
			})
		}
		if config.KeyFile == "" {
			errs = append(errs, ValidationError{
				Field:   "tls.keyFile",
				Message: "TLS key is required when TLS certificate is specified",
			})
		}
	}
	if config.Enabled && config.CertFile == "" && config.KeyFile == "" {
		errs = append(errs, ValidationError{
			Field:   "tls.certFile",
			Message: "is required when TLS is enabled",
		})
	}

	for _, f := range []struct{ field, path string }{
		{"tls.certFile", config.CertFile},
		{"tls.keyFile", config.KeyFile},
		{"tls.caFile", config.CAFile},
	} {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); err != nil {
			errs = append(errs, ValidationError{Field: f.field, Message: fmt.Sprintf("file %s not found", f.path)})
		}
	}

	minVersion, err := session.ParseTLSVersion(config.MinVersion)
	if err != nil {
		errs = append(errs, ValidationError{Field: "tls.minVersion", Message: err.Error()})
	}
	maxVersion, err := session.ParseTLSVersion(config.MaxVersion)
	if err != nil {
		errs = append(errs, ValidationError{Field: "tls.maxVersion", Message: err.Error()})
	}
	if minVersion != 0 && maxVersion != 0 && minVersion > maxVersion {
		errs = append(errs, ValidationError{Field: "tls.minVersion", Message: "is higher than tls.maxVersion"})
	}
	return errs
}

func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

func validateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}
	if port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

// validateDN checks that every RDN of dn has an attribute type.
func validateDN(dn string) error {
	for _, part := range strings.Split(dn, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty RDN in %q", dn)
		}
		if idx := strings.Index(part, "="); idx <= 0 {
			return fmt.Errorf("invalid RDN format: %s", part)
		}
	}
	return nil
}
