package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// DefaultHandshakeTimeout bounds the TLS handshake when the caller's
// context has no deadline.
const DefaultHandshakeTimeout = 10 * time.Second

// Default cipher suites for TLS 1.2. TLS 1.3 suites are managed by Go.
var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// TLS configuration errors.
var (
	ErrNoCertificate      = errors.New("session: no certificate provided")
	ErrNoPrivateKey       = errors.New("session: no private key provided")
	ErrCertKeyMismatch    = errors.New("session: certificate and private key do not match")
	ErrInvalidTLSVersion  = errors.New("session: invalid TLS version")
	ErrMinVersionTooHigh  = errors.New("session: minimum TLS version is higher than maximum")
	ErrInvalidCipherSuite = errors.New("session: invalid cipher suite")
	ErrCertFileNotFound   = errors.New("session: certificate file not found")
	ErrKeyFileNotFound    = errors.New("session: private key file not found")
	ErrInvalidCAPEM       = errors.New("session: invalid CA PEM data")
)

// TLSConfig describes the TLS settings of replication sessions. The same
// settings serve both ends: the certificate is presented by whichever side
// has one and CAPEM verifies the peer.
type TLSConfig struct {
	CertFile string
	KeyFile  string

	// CertPEM and KeyPEM take precedence over the file paths.
	CertPEM []byte
	KeyPEM  []byte

	// CAFile or CAPEM hold the authorities trusted for peer certificates.
	CAFile string
	CAPEM  []byte

	MinVersion   uint16
	MaxVersion   uint16
	CipherSuites []uint16

	// ServerName is checked against the server certificate by clients.
	ServerName string

	// InsecureSkipVerify disables peer certificate verification.
	InsecureSkipVerify bool

	// RequireClientCert makes servers verify client certificates against
	// the configured authorities.
	RequireClientCert bool
}

// NewTLSConfig creates a TLSConfig allowing TLS 1.2 and 1.3.
func NewTLSConfig() *TLSConfig {
	return &TLSConfig{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}

// WithCertFile sets the certificate and key file paths.
func (c *TLSConfig) WithCertFile(certFile, keyFile string) *TLSConfig {
	c.CertFile = certFile
	c.KeyFile = keyFile
	return c
}

// WithCertPEM sets the certificate and key from PEM data.
func (c *TLSConfig) WithCertPEM(certPEM, keyPEM []byte) *TLSConfig {
	c.CertPEM = certPEM
	c.KeyPEM = keyPEM
	return c
}

// WithCAPEM sets the trusted authorities from PEM data.
func (c *TLSConfig) WithCAPEM(pem []byte) *TLSConfig {
	c.CAPEM = pem
	return c
}

// WithVersions sets the accepted TLS version range.
func (c *TLSConfig) WithVersions(minVersion, maxVersion uint16) *TLSConfig {
	c.MinVersion = minVersion
	c.MaxVersion = maxVersion
	return c
}

// WithCipherSuites sets the allowed cipher suites.
func (c *TLSConfig) WithCipherSuites(suites []uint16) *TLSConfig {
	c.CipherSuites = suites
	return c
}

// WithServerName sets the name clients expect in the server certificate.
func (c *TLSConfig) WithServerName(name string) *TLSConfig {
	c.ServerName = name
	return c
}

// WithInsecureSkipVerify disables peer certificate verification.
func (c *TLSConfig) WithInsecureSkipVerify(skip bool) *TLSConfig {
	c.InsecureSkipVerify = skip
	return c
}

// LoadTLSConfig builds the server side *tls.Config. A certificate is
// required.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, ErrNoTLSConfig
	}
	base, err := baseConfig(cfg)
	if err != nil {
		return nil, err
	}

	cert, err := loadCertificateFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	base.Certificates = []tls.Certificate{cert}

	pool, err := loadCAPool(cfg)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		base.ClientCAs = pool
		if cfg.RequireClientCert {
			base.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			base.ClientAuth = tls.VerifyClientCertIfGiven
		}
	}
	return base, nil
}

// LoadClientTLSConfig builds the client side *tls.Config. The certificate
// is optional.
func LoadClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, ErrNoTLSConfig
	}
	base, err := baseConfig(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.hasCertificate() {
		cert, err := loadCertificateFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		base.Certificates = []tls.Certificate{cert}
	}

	pool, err := loadCAPool(cfg)
	if err != nil {
		return nil, err
	}
	base.RootCAs = pool
	base.ServerName = cfg.ServerName
	base.InsecureSkipVerify = cfg.InsecureSkipVerify
	return base, nil
}

func baseConfig(cfg *TLSConfig) (*tls.Config, error) {
	if err := validateTLSVersions(cfg.MinVersion, cfg.MaxVersion); err != nil {
		return nil, err
	}

	suites := cfg.CipherSuites
	if len(suites) == 0 {
		suites = defaultCipherSuites
	}
	if err := validateCipherSuites(suites); err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   cfg.MinVersion,
		MaxVersion:   cfg.MaxVersion,
		CipherSuites: suites,
	}, nil
}

func (c *TLSConfig) hasCertificate() bool {
	return len(c.CertPEM) > 0 || len(c.KeyPEM) > 0 || c.CertFile != "" || c.KeyFile != ""
}

// LoadCertificate loads a certificate from file paths.
func LoadCertificate(certFile, keyFile string) (tls.Certificate, error) {
	if certFile == "" {
		return tls.Certificate{}, ErrNoCertificate
	}
	if keyFile == "" {
		return tls.Certificate{}, ErrNoPrivateKey
	}
	if _, err := os.Stat(certFile); os.IsNotExist(err) {
		return tls.Certificate{}, ErrCertFileNotFound
	}
	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		return tls.Certificate{}, ErrKeyFileNotFound
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		if isKeyMismatchError(err) {
			return tls.Certificate{}, ErrCertKeyMismatch
		}
		return tls.Certificate{}, fmt.Errorf("session: failed to load certificate: %w", err)
	}
	return cert, nil
}

// LoadCertificateFromPEM loads a certificate from PEM-encoded data.
func LoadCertificateFromPEM(certPEM, keyPEM []byte) (tls.Certificate, error) {
	if len(certPEM) == 0 {
		return tls.Certificate{}, ErrNoCertificate
	}
	if len(keyPEM) == 0 {
		return tls.Certificate{}, ErrNoPrivateKey
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		if isKeyMismatchError(err) {
			return tls.Certificate{}, ErrCertKeyMismatch
		}
		return tls.Certificate{}, fmt.Errorf("session: failed to parse certificate: %w", err)
	}
	return cert, nil
}

func loadCertificateFromConfig(cfg *TLSConfig) (tls.Certificate, error) {
	if len(cfg.CertPEM) > 0 || len(cfg.KeyPEM) > 0 {
		return LoadCertificateFromPEM(cfg.CertPEM, cfg.KeyPEM)
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		return LoadCertificate(cfg.CertFile, cfg.KeyFile)
	}
	return tls.Certificate{}, ErrNoCertificate
}

func loadCAPool(cfg *TLSConfig) (*x509.CertPool, error) {
	data := cfg.CAPEM
	if len(data) == 0 && cfg.CAFile != "" {
		var err error
		if data, err = os.ReadFile(cfg.CAFile); err != nil {
			return nil, fmt.Errorf("session: failed to read CA file: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, ErrInvalidCAPEM
	}
	return pool, nil
}

func validateTLSVersions(minVersion, maxVersion uint16) error {
	if minVersion != 0 && !isValidTLSVersion(minVersion) {
		return fmt.Errorf("%w: min version 0x%04x", ErrInvalidTLSVersion, minVersion)
	}
	if maxVersion != 0 && !isValidTLSVersion(maxVersion) {
		return fmt.Errorf("%w: max version 0x%04x", ErrInvalidTLSVersion, maxVersion)
	}
	if minVersion != 0 && maxVersion != 0 && minVersion > maxVersion {
		return ErrMinVersionTooHigh
	}
	return nil
}

func isValidTLSVersion(version uint16) bool {
	switch version {
	case tls.VersionTLS10, tls.VersionTLS11, tls.VersionTLS12, tls.VersionTLS13:
		return true
	default:
		return false
	}
}

func validateCipherSuites(suites []uint16) error {
	valid := make(map[uint16]bool)
	for _, suite := range tls.CipherSuites() {
		valid[suite.ID] = true
	}
	for _, suite := range tls.InsecureCipherSuites() {
		valid[suite.ID] = true
	}

	for _, suite := range suites {
		if !valid[suite] {
			return fmt.Errorf("%w: 0x%04x", ErrInvalidCipherSuite, suite)
		}
	}
	return nil
}

func isKeyMismatchError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "private key does not match") ||
		strings.Contains(msg, "private key type does not match")
}

// GetDefaultCipherSuites returns a copy of the default cipher suites.
func GetDefaultCipherSuites() []uint16 {
	result := make([]uint16, len(defaultCipherSuites))
	copy(result, defaultCipherSuites)
	return result
}

// ParseTLSVersion parses "1.0" through "1.3". The empty string yields 0.
func ParseTLSVersion(s string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "tls") {
	case "":
		return 0, nil
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTLSVersion, s)
	}
}

// NewPlainSession wraps conn without TLS.
func NewPlainSession(conn net.Conn, opts Options) *Session {
	return newSession(conn, nil, opts)
}

// NewClientSession runs the client side of a TLS handshake on conn and
// returns an encrypted session. conn is closed when the handshake fails.
func NewClientSession(ctx context.Context, conn net.Conn, cfg *tls.Config, opts Options) (*Session, error) {
	if cfg == nil {
		conn.Close()
		return nil, ErrNoTLSConfig
	}
	return handshake(ctx, conn, tls.Client(conn, cfg), opts)
}

// NewServerSession runs the server side of a TLS handshake on conn and
// returns an encrypted session. conn is closed when the handshake fails.
func NewServerSession(ctx context.Context, conn net.Conn, cfg *tls.Config, opts Options) (*Session, error) {
	if cfg == nil {
		conn.Close()
		return nil, ErrNoTLSConfig
	}
	return handshake(ctx, conn, tls.Server(conn, cfg), opts)
}

func handshake(ctx context.Context, conn net.Conn, tlsConn *tls.Conn, opts Options) (*Session, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHandshakeTimeout)
		defer cancel()
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &IOError{Op: "handshake", Err: err}
	}
	return newSession(conn, tlsConn, opts), nil
}
