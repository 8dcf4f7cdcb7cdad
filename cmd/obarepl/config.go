package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/config"
	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/broker"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/server"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/session"
)

// configCmd handles the config command.
func configCmd(args []string) int {
	if len(args) == 0 {
		printConfigUsage(os.Stdout)
		return 0
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(os.Stdout)
		return 0
	}

	switch args[0] {
	case "validate":
		return configValidateCmd(args[1:])
	case "init":
		return configInitCmd(args[1:])
	case "show":
		return configShowCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		fmt.Fprintln(os.Stderr, "Run 'obarepl config help' for usage.")
		return 1
	}
}

// configValidateCmd handles the config validate subcommand.
func configValidateCmd(args []string) int {
	fs := flag.NewFlagSet("config validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		fmt.Println("Validate configuration file")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  obarepl config validate [options]")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -config string")
		fmt.Println("        Path to configuration file (required)")
		return 0
	}

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -config is required")
		return 1
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	if !reportErrors(config.ValidateConfig(cfg)) {
		return 1
	}

	fmt.Println("Configuration is valid")
	return 0
}

// configInitCmd handles the config init subcommand.
func configInitCmd(args []string) int {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	baseDN := fs.String("base-dn", "dc=example,dc=com", "Replicated base DN")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		fmt.Println("Generate default configuration")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  obarepl config init [-base-dn dn]")
		fmt.Println()
		fmt.Println("Outputs default configuration to stdout in YAML format.")
		return 0
	}

	cfg := config.DefaultConfig()
	cfg.Replication.BaseDN = *baseDN
	return printConfig(cfg)
}

// configShowCmd handles the config show subcommand.
func configShowCmd(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		fmt.Println("Show effective configuration")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  obarepl config show [options]")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -config string")
		fmt.Println("        Path to configuration file")
		fmt.Println()
		fmt.Println("Shows defaults merged with the file and environment overrides.")
		return 0
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	return printConfig(cfg)
}

func printConfig(cfg *config.Config) int {
	data, err := config.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	os.Stdout.Write(data)
	return 0
}

// loadConfig loads path, or the defaults when path is empty, and applies
// environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// reportErrors prints validation errors and reports whether there were
// none.
func reportErrors(errs []error) bool {
	if len(errs) == 0 {
		return true
	}
	fmt.Fprintln(os.Stderr, "Configuration errors:")
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "  - %s\n", e)
	}
	return false
}

// applyEnvOverrides applies OBAREPL_* environment variables to cfg.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("OBAREPL_SERVER_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.Replication.ServerID = id
		}
	}
	if v := os.Getenv("OBAREPL_LISTEN"); v != "" {
		cfg.Replication.Listen = v
	}
	if v := os.Getenv("OBAREPL_SERVER_URL"); v != "" {
		cfg.Replication.ServerURL = v
	}
	if v := os.Getenv("OBAREPL_BASE_DN"); v != "" {
		cfg.Replication.BaseDN = v
	}
	if v := os.Getenv("OBAREPL_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Replication.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("OBAREPL_TLS_CERT"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv("OBAREPL_TLS_KEY"); v != "" {
		cfg.TLS.KeyFile = v
	}
	if v := os.Getenv("OBAREPL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OBAREPL_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

func sessionTLSConfig(cfg *config.TLSConfig) (*session.TLSConfig, error) {
	minVersion, err := session.ParseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	maxVersion, err := session.ParseTLSVersion(cfg.MaxVersion)
	if err != nil {
		return nil, err
	}
	t := session.NewTLSConfig().
		WithCertFile(cfg.CertFile, cfg.KeyFile).
		WithServerName(cfg.ServerName).
		WithInsecureSkipVerify(cfg.InsecureSkipVerify)
	if minVersion != 0 {
		t.MinVersion = minVersion
	}
	if maxVersion != 0 {
		t.MaxVersion = maxVersion
	}
	t.CAFile = cfg.CAFile
	t.RequireClientCert = cfg.RequireClientCert
	return t, nil
}

// serverConfig maps cfg to the replication server settings.
func serverConfig(cfg *config.Config, logger logging.Logger) (server.Config, error) {
	r := cfg.Replication
	sc := server.Config{
		ServerID:          r.ServerID,
		ListenAddress:     r.Listen,
		ServerURL:         r.ServerURL,
		BaseDN:            r.BaseDN,
		GroupID:           int8(r.GroupID),
		GenerationID:      r.GenerationID,
		WindowSize:        r.WindowSize,
		DegradedThreshold: r.DegradedThreshold,
		Weight:            r.Weight,
		SSLEncryption:     r.SSLEncryption,
		HandshakeTimeout:  r.HandshakeTimeout,
		AssuredTimeout:    r.AssuredTimeout,
		HeartbeatInterval: r.HeartbeatInterval,
		ForwardQueue:      r.ForwardQueue,
		QueueCapacity:     r.QueueCapacity,
		MaxFrameSize:      r.MaxFrameSize,
		Logger:            logger,
	}
	if cfg.TLS.Enabled {
		t, err := sessionTLSConfig(&cfg.TLS)
		if err != nil {
			return server.Config{}, err
		}
		if sc.TLS, err = session.LoadTLSConfig(t); err != nil {
			return server.Config{}, fmt.Errorf("failed to load TLS config: %w", err)
		}
	}
	return sc, nil
}

// brokerConfig maps cfg to the settings of a directory server session.
func brokerConfig(cfg *config.Config, logger logging.Logger) (broker.Config, error) {
	r := cfg.Replication
	bc := broker.Config{
		ServerID:          r.ServerID,
		BaseDN:            r.BaseDN,
		ServerURL:         r.ServerURL,
		GroupID:           int8(r.GroupID),
		GenerationID:      r.GenerationID,
		WindowSize:        r.WindowSize,
		HeartbeatInterval: r.HeartbeatInterval,
		SSLEncryption:     r.SSLEncryption,
		ProtocolVersion:   protocol.ProtocolVersion(r.ProtocolVersion),
		AssuredTimeout:    r.AssuredTimeout,
		HandshakeTimeout:  r.HandshakeTimeout,
		QueueCapacity:     r.QueueCapacity,
		MaxFrameSize:      r.MaxFrameSize,
		Logger:            logger,
	}
	if cfg.TLS.Enabled {
		t, err := sessionTLSConfig(&cfg.TLS)
		if err != nil {
			return broker.Config{}, err
		}
		var tlsCfg *tls.Config
		if tlsCfg, err = session.LoadClientTLSConfig(t); err != nil {
			return broker.Config{}, fmt.Errorf("failed to load TLS config: %w", err)
		}
		bc.TLS = tlsCfg
	}
	return bc, nil
}
