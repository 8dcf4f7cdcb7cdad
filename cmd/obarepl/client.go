package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/obarepl/internal/config"
	"github.com/KilimcininKorOglu/obarepl/internal/ldap"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/broker"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// clientFlags are shared by the commands that connect to a replication
// server as a directory server.
type clientFlags struct {
	configFile *string
	servers    stringList
	serverID   *int
	baseDN     *string
	timeout    *time.Duration
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	cf := &clientFlags{
		configFile: fs.String("config", "", "Path to configuration file"),
		serverID:   fs.Int("server-id", 0, "Directory server ID (overrides config)"),
		baseDN:     fs.String("base-dn", "", "Replicated base DN (overrides config)"),
		timeout:    fs.Duration("timeout", 10*time.Second, "Overall timeout"),
	}
	fs.Var(&cf.servers, "server", "Replication server host:port, repeatable (overrides config)")
	return cf
}

func (cf *clientFlags) load() (*config.Config, error) {
	cfg, err := loadConfig(*cf.configFile)
	if err != nil {
		return nil, err
	}
	if len(cf.servers) > 0 {
		cfg.Replication.Servers = cf.servers
	}
	if *cf.serverID != 0 {
		cfg.Replication.ServerID = *cf.serverID
	}
	if *cf.baseDN != "" {
		cfg.Replication.BaseDN = *cf.baseDN
	}
	// Keep stdout for command output.
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return nil, errs[0]
	}
	if len(cfg.Replication.Servers) == 0 {
		return nil, broker.ErrNoReplicationServer
	}
	return cfg, nil
}

func dialBroker(ctx context.Context, cfg *config.Config) (*broker.Broker, error) {
	bc, err := brokerConfig(cfg, newLogger(cfg))
	if err != nil {
		return nil, err
	}
	return broker.DialAny(ctx, bc, cfg.Replication.Servers)
}

// monitorCmd handles the monitor command.
func monitorCmd(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cf := addClientFlags(fs)
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printMonitorUsage(os.Stdout)
		return 0
	}

	cfg, err := cf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *cf.timeout)
	defer cancel()

	b, err := dialBroker(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		return 1
	}
	defer b.Close()

	rs := b.ReplServer()
	msg, err := b.RequestMonitor(ctx, rs.ServerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Monitor request failed: %v\n", err)
		return 1
	}

	printMonitor(os.Stdout, rs, b.ProtocolVersion(), msg)
	return 0
}

func printMonitor(w io.Writer, rs broker.ReplServerInfo, v protocol.ProtocolVersion, msg *protocol.MonitorMsg) {
	fmt.Fprintf(w, "Replication server %d (%s)\n", rs.ServerID, rs.ServerURL)
	fmt.Fprintf(w, "  Base DN:       %s\n", rs.BaseDN)
	fmt.Fprintf(w, "  Protocol:      %s\n", v)
	fmt.Fprintf(w, "  Generation ID: %d\n", rs.GenerationID)
	fmt.Fprintf(w, "  State:         %s\n", msg.ReplServerState)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tFIRST MISSING\tSTATE")
	for _, ri := range msg.Replicas {
		missing := "-"
		if ri.ApproxFirstMissingDate > 0 {
			missing = time.UnixMilli(ri.ApproxFirstMissingDate).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ri.Kind, ri.ServerID, missing, ri.State)
	}
	tw.Flush()
}

// publishCmd handles the publish command.
func publishCmd(args []string) int {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	cf := addClientFlags(fs)
	dn := fs.String("dn", "", "DN of the modified entry (required)")
	entryUUID := fs.String("entry-uuid", "", "Entry UUID (default: random)")
	op := fs.String("op", "replace", "Modification type: add, delete, replace")
	var values stringList
	fs.Var(&values, "set", "attr=value, repeatable")
	assured := fs.String("assured", "", "Assured mode: safe-read, safe-data")
	level := fs.Int("level", protocol.DefaultSafeDataLevel, "Safe data level")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printPublishUsage(os.Stdout)
		return 0
	}

	if *dn == "" {
		fmt.Fprintln(os.Stderr, "Error: -dn is required")
		return 1
	}
	mods, err := parseModifications(*op, values)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	var opts []protocol.UpdateOption
	if *assured != "" {
		mode, err := protocol.ParseAssuredMode(*assured)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if *level < 1 || *level > 255 {
			fmt.Fprintln(os.Stderr, "Error: -level must be between 1 and 255")
			return 1
		}
		opts = append(opts, protocol.WithAssured(mode, byte(*level)))
	}
	if *entryUUID == "" {
		*entryUUID = uuid.NewString()
	}

	cfg, err := cf.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *cf.timeout)
	defer cancel()

	b, err := dialBroker(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		return 1
	}
	defer b.Close()

	msg, err := protocol.NewModifyMsg(b.NewCSN(), *dn, *entryUUID, mods, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	pending, err := b.Publish(ctx, msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		return 1
	}
	fmt.Printf("Published %s to replication server %d\n", msg.CSN(), b.ReplServer().ServerID)

	if pending == nil {
		return 0
	}
	ack, err := pending.Wait(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Waiting for ack failed: %v\n", err)
		return 1
	}
	if ack.Failed() {
		fmt.Printf("Ack: timeout=%t wrong-status=%t replay-error=%t failed=%v\n",
			ack.HasTimeout, ack.HasWrongStatus, ack.HasReplayError, ack.FailedServers)
		return 1
	}
	fmt.Println("Acknowledged")
	return 0
}

// parseModifications turns attr=value pairs into modifications of type op.
// Values of the same attribute are grouped in one modification.
func parseModifications(op string, values []string) ([]ldap.Modification, error) {
	var modOp ldap.ModifyOperation
	switch op {
	case "add":
		modOp = ldap.ModifyOperationAdd
	case "delete":
		modOp = ldap.ModifyOperationDelete
	case "replace":
		modOp = ldap.ModifyOperationReplace
	default:
		return nil, fmt.Errorf("unknown modification type %q", op)
	}
	if len(values) == 0 {
		return nil, errors.New("at least one -set attr=value is required")
	}

	var mods []ldap.Modification
	index := make(map[string]int)
	for _, v := range values {
		attr, value, ok := strings.Cut(v, "=")
		if !ok || attr == "" {
			return nil, fmt.Errorf("invalid -set %q, want attr=value", v)
		}
		if i, seen := index[strings.ToLower(attr)]; seen {
			mods[i].Attribute.Values = append(mods[i].Attribute.Values, []byte(value))
			continue
		}
		index[strings.ToLower(attr)] = len(mods)
		mods = append(mods, ldap.NewModification(modOp, attr, value))
	}
	return mods, nil
}
