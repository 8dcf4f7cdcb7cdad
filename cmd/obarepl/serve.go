package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"

	"github.com/KilimcininKorOglu/obarepl/internal/config"
	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/server"
)

// replicationServer ties a replication server to the process around it:
// configuration reloads and the PID file.
type replicationServer struct {
	server     *server.Server
	logger     logging.Logger
	configFile string
	pidFile    string

	mu     sync.Mutex
	config *config.Config
}

func newReplicationServer(cfg *config.Config) (*replicationServer, error) {
	logger := newLogger(cfg)
	sc, err := serverConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &replicationServer{
		server: server.New(sc),
		logger: logger,
		config: cfg,
	}, nil
}

// serveCmd handles the serve command.
func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	configFile := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Listen address (overrides config)")
	serverID := fs.Int("server-id", 0, "Replication server ID (overrides config)")
	baseDN := fs.String("base-dn", "", "Replicated base DN (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pidFile := fs.String("pid-file", "", "Path to PID file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printServeUsage(os.Stdout)
		return 0
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Command-line flags take precedence over the file and environment.
	if *listen != "" {
		cfg.Replication.Listen = *listen
	}
	if *serverID != 0 {
		cfg.Replication.ServerID = *serverID
	}
	if *baseDN != "" {
		cfg.Replication.BaseDN = *baseDN
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if !reportErrors(config.ValidateConfig(cfg)) {
		return 1
	}

	srv, err := newReplicationServer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create server: %v\n", err)
		return 1
	}
	srv.configFile = *configFile

	if *pidFile != "" {
		if err := srv.writePIDFile(*pidFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write PID file: %v\n", err)
			return 1
		}
		defer srv.removePIDFile()
	}

	if err := srv.server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		return 1
	}
	srv.logger.Info("replication server started",
		"addr", srv.server.Addr().String(),
		"server_id", cfg.Replication.ServerID,
		"base_dn", cfg.Replication.BaseDN,
	)

	if *configFile != "" {
		watcher, err := config.NewWatcher(*configFile, srv.handleFileChange, config.WatchOptions{Logger: srv.logger})
		if err != nil {
			srv.logger.Warn("failed to create config watcher", "error", err)
		} else {
			ctx, cancel := context.WithCancel(context.Background())
			watchDone := make(chan struct{})
			go func() {
				defer close(watchDone)
				watcher.Run(ctx)
			}()
			srv.logger.Info("config file watcher started", "file", *configFile)
			defer func() {
				cancel()
				<-watchDone
			}()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			srv.handleSIGHUP()
			continue
		}
		srv.logger.Info("received signal, shutting down", "signal", sig.String())
		break
	}

	if err := srv.server.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		return 1
	}
	return 0
}

// handleSIGHUP rereads the configuration file.
func (s *replicationServer) handleSIGHUP() {
	if s.configFile == "" {
		s.logger.Warn("received SIGHUP without a configuration file, nothing to reload")
		return
	}
	s.logger.Info("received SIGHUP, reloading configuration", "file", s.configFile)

	newCfg, err := config.LoadConfig(s.configFile)
	if err != nil {
		s.logger.Error("config reload failed", "error", err)
		return
	}
	s.handleFileChange(nil, newCfg)
}

// handleFileChange applies a configuration read from the file. The
// environment overrides apply on top of it, as at startup.
func (s *replicationServer) handleFileChange(_, newCfg *config.Config) {
	applyEnvOverrides(newCfg)
	if errs := config.ValidateConfig(newCfg); len(errs) > 0 {
		s.logger.Error("config reload rejected", "error", errs[0], "errors", len(errs))
		return
	}

	s.mu.Lock()
	oldCfg := s.config
	s.mu.Unlock()
	s.handleConfigReload(oldCfg, newCfg)
}

// handleConfigReload applies the settings that can change at runtime.
// Everything else takes effect on the next start.
func (s *replicationServer) handleConfigReload(oldCfg, newCfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if oldCfg.Logging.Level != newCfg.Logging.Level {
		s.logger.SetLevel(newCfg.Logging.Level)
		s.logger.Info("log level changed", "old", oldCfg.Logging.Level, "new", newCfg.Logging.Level)
	}
	if restartRequired(oldCfg, newCfg) {
		s.logger.Warn("replication settings changed, restart to apply them")
	}
	s.config = newCfg
}

func restartRequired(oldCfg, newCfg *config.Config) bool {
	return !reflect.DeepEqual(oldCfg.Replication, newCfg.Replication) || oldCfg.TLS != newCfg.TLS
}

// writePIDFile writes the process ID to path.
func (s *replicationServer) writePIDFile(path string) error {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	s.pidFile = path
	s.logger.Info("PID file written", "file", path, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (s *replicationServer) removePIDFile() {
	if s.pidFile != "" {
		os.Remove(s.pidFile)
		s.logger.Debug("PID file removed", "file", s.pidFile)
	}
}
