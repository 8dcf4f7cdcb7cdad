package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
replication:
  serverId: 100
  listen: "127.0.0.1:8989"
  baseDN: "dc=example,dc=com"
  groupId: 2
  windowSize: 50
  heartbeatInterval: 5s
  assuredTimeout: 500ms
  sslEncryption: true
  servers:
    - "rs1.example.com:8989"
    - "rs2.example.com:8989"

logging:
  level: "debug"
  format: "text"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	r := cfg.Replication
	assert.Equal(t, 100, r.ServerID)
	assert.Equal(t, "127.0.0.1:8989", r.Listen)
	assert.Equal(t, "dc=example,dc=com", r.BaseDN)
	assert.Equal(t, 2, r.GroupID)
	assert.Equal(t, 50, r.WindowSize)
	assert.Equal(t, 5*time.Second, r.HeartbeatInterval)
	assert.Equal(t, 500*time.Millisecond, r.AssuredTimeout)
	assert.True(t, r.SSLEncryption)
	assert.Equal(t, []string{"rs1.example.com:8989", "rs2.example.com:8989"}, r.Servers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Keys absent from the file keep their defaults.
	def := DefaultConfig()
	assert.Equal(t, def.Replication.HandshakeTimeout, r.HandshakeTimeout)
	assert.Equal(t, def.Replication.Weight, r.Weight)
	assert.Equal(t, def.Logging.Output, cfg.Logging.Output)
	assert.Equal(t, def.TLS, cfg.TLS)
}

func TestParseConfigEmpty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigUnknownKey(t *testing.T) {
	_, err := ParseConfig([]byte("replication:\n  serverID: 1\n"))
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParseConfigInvalid(t *testing.T) {
	tests := []string{
		"replication: [",
		"replication:\n  windowSize: many\n",
		"replication:\n  heartbeatInterval: soon\n",
	}
	for _, input := range tests {
		_, err := ParseConfig([]byte(input))
		assert.ErrorIs(t, err, ErrInvalidYAML, input)
	}
}

func TestParseConfigEnvVars(t *testing.T) {
	t.Setenv("OBAREPL_TEST_DN", "dc=env,dc=test")
	t.Setenv("OBAREPL_TEST_EMPTY", "")

	cfg, err := ParseConfig([]byte(`
replication:
  baseDN: "${OBAREPL_TEST_DN}"
  serverUrl: "${OBAREPL_TEST_EMPTY:-rs.example.com:8989}"
logging:
  level: "${OBAREPL_TEST_UNSET:-warn}"
`))
	require.NoError(t, err)
	assert.Equal(t, "dc=env,dc=test", cfg.Replication.BaseDN)
	assert.Equal(t, "rs.example.com:8989", cfg.Replication.ServerURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Replication.ServerID)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	data, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "heartbeatInterval: 5s")
	assert.Contains(t, string(data), "baseDN: dc=example,dc=com")

	again, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Replication.BaseDN = "dc=example,dc=com"
	return cfg
}

func TestValidateConfig(t *testing.T) {
	assert.Empty(t, ValidateConfig(validConfig()))

	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"server id zero", func(c *Config) { c.Replication.ServerID = 0 }, "replication.serverId"},
		{"server id too large", func(c *Config) { c.Replication.ServerID = 70000 }, "replication.serverId"},
		{"listen without port", func(c *Config) { c.Replication.Listen = "localhost" }, "replication.listen"},
		{"missing base DN", func(c *Config) { c.Replication.BaseDN = "" }, "replication.baseDN"},
		{"bad base DN", func(c *Config) { c.Replication.BaseDN = "dc=example,com" }, "replication.baseDN"},
		{"empty RDN", func(c *Config) { c.Replication.BaseDN = "dc=example,,dc=com" }, "replication.baseDN"},
		{"group id", func(c *Config) { c.Replication.GroupID = 0 }, "replication.groupId"},
		{"window size", func(c *Config) { c.Replication.WindowSize = 0 }, "replication.windowSize"},
		{"heartbeat", func(c *Config) { c.Replication.HeartbeatInterval = -time.Second }, "replication.heartbeatInterval"},
		{"weight", func(c *Config) { c.Replication.Weight = 0 }, "replication.weight"},
		{"assured timeout", func(c *Config) { c.Replication.AssuredTimeout = 0 }, "replication.assuredTimeout"},
		{"handshake timeout", func(c *Config) { c.Replication.HandshakeTimeout = 0 }, "replication.handshakeTimeout"},
		{"server address", func(c *Config) { c.Replication.Servers = []string{"rs1:8989", "rs2"} }, "replication.servers[1]"},
		{"protocol version", func(c *Config) { c.Replication.ProtocolVersion = 9 }, "replication.protocolVersion"},
		{"key without cert", func(c *Config) { c.TLS.KeyFile = "/nonexistent/key.pem" }, "tls.certFile"},
		{"enabled without cert", func(c *Config) { c.TLS.Enabled = true }, "tls.certFile"},
		{"missing ca file", func(c *Config) { c.TLS.CAFile = "/nonexistent/ca.pem" }, "tls.caFile"},
		{"tls version", func(c *Config) { c.TLS.MinVersion = "2.0" }, "tls.minVersion"},
		{"tls range", func(c *Config) { c.TLS.MinVersion, c.TLS.MaxVersion = "1.3", "1.2" }, "tls.minVersion"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative log output", func(c *Config) { c.Logging.Output = "obarepl.log" }, "logging.output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			errs := ValidateConfig(cfg)
			require.NotEmpty(t, errs)

			var fields []string
			for _, err := range errs {
				var ve ValidationError
				require.ErrorAs(t, err, &ve)
				fields = append(fields, ve.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateConfigTLSFiles(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "server.crt")
	key := filepath.Join(dir, "server.key")
	require.NoError(t, os.WriteFile(cert, []byte("cert"), 0o600))
	require.NoError(t, os.WriteFile(key, []byte("key"), 0o600))

	cfg := validConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.CertFile = cert
	cfg.TLS.KeyFile = key
	assert.Empty(t, ValidateConfig(cfg))
}

func TestValidationErrorString(t *testing.T) {
	err := ValidationError{Field: "replication.serverId", Message: "must be between 1 and 65535"}
	assert.Equal(t, "replication.serverId: must be between 1 and 65535", err.Error())
	assert.True(t, strings.HasPrefix(err.Error(), "replication."))
}
