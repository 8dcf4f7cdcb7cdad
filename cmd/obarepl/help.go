package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `obarepl - LDAP directory replication server

Usage:
  obarepl <command> [options]

Commands:
  serve       Start the replication server
  monitor     Show monitoring data of a replication server
  publish     Publish a modify update as a directory server
  config      Configuration management
  reload      Reload configuration of a running server
  version     Show version information

Use "obarepl <command> -h" for more information about a command.
`)
}

// printServeUsage prints the serve command usage.
func printServeUsage(w io.Writer) {
	fmt.Fprint(w, `Start the replication server

Usage:
  obarepl serve [options]

Options:
  -config string
        Path to configuration file
  -listen string
        Listen address (overrides config, default ":8989")
  -server-id int
        Replication server ID (overrides config)
  -base-dn string
        Replicated base DN (overrides config)
  -log-level string
        Log level: debug, info, warn, error (overrides config)
  -pid-file string
        Path to PID file, used by "obarepl reload"
  -h, -help
        Show this help message

Environment Variables:
  OBAREPL_SERVER_ID            Override replication server ID
  OBAREPL_LISTEN               Override listen address
  OBAREPL_SERVER_URL           Override advertised server URL
  OBAREPL_BASE_DN              Override base DN
  OBAREPL_HEARTBEAT_INTERVAL   Override heartbeat interval
  OBAREPL_TLS_CERT             Override TLS certificate file
  OBAREPL_TLS_KEY              Override TLS key file
  OBAREPL_LOGGING_LEVEL        Override log level
  OBAREPL_LOGGING_FORMAT       Override log format

The configuration file is watched for changes. The log level is applied
at once; other changes take effect on restart.
`)
}

const clientOptions = `  -config string
        Path to configuration file
  -server host:port
        Replication server to connect to, repeatable (overrides config)
  -server-id int
        Directory server ID (overrides config)
  -base-dn string
        Replicated base DN (overrides config)
  -timeout duration
        Overall timeout (default 10s)
`

// printMonitorUsage prints the monitor command usage.
func printMonitorUsage(w io.Writer) {
	fmt.Fprint(w, `Show monitoring data of a replication server

Usage:
  obarepl monitor [options]

Connects as a directory server, requests the monitoring data of the
replication server it reached and prints the state of every replica.

Options:
`+clientOptions+`  -h, -help
        Show this help message
`)
}

// printPublishUsage prints the publish command usage.
func printPublishUsage(w io.Writer) {
	fmt.Fprint(w, `Publish a modify update as a directory server

Usage:
  obarepl publish -dn dn -set attr=value [options]

Options:
`+clientOptions+`  -dn string
        DN of the modified entry (required)
  -entry-uuid string
        Entry UUID (default: random)
  -op string
        Modification type: add, delete, replace (default "replace")
  -set attr=value
        Attribute value, repeatable
  -assured string
        Assured mode: safe-read, safe-data
  -level int
        Safe data level (default 1)
  -h, -help
        Show this help message

Examples:
  obarepl publish -config repl.yaml -dn uid=alice,ou=people,dc=example,dc=com -set mail=alice@example.com
  obarepl publish -server rs1:8989 -base-dn dc=example,dc=com -server-id 2 \
      -dn uid=bob,ou=people,dc=example,dc=com -set description=test -assured safe-read
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  obarepl config <subcommand> [options]

Subcommands:
  validate    Validate configuration file
  init        Generate default configuration
  show        Show effective configuration

Use "obarepl config <subcommand> -h" for more information.
`)
}

// printReloadUsage prints the reload command usage.
func printReloadUsage(w io.Writer) {
	fmt.Fprint(w, `Reload configuration of a running server

Usage:
  obarepl reload [options]

Sends SIGHUP to the server process, which rereads its configuration file.

Options:
  -pid-file string
        Path to PID file (default "/var/run/obarepl.pid")
  -h, -help
        Show this help message

Environment Variables:
  OBAREPL_PID_FILE   Override PID file path
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  obarepl version [options]

Options:
  -short
        Show only version number
  -h, -help
        Show this help message
`)
}
