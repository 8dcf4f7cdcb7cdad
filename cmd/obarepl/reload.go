package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// reloadCmd handles the reload command.
func reloadCmd(args []string) int {
	fs := flag.NewFlagSet("reload", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	pidFile := fs.String("pid-file", "/var/run/obarepl.pid", "Path to PID file")
	help := fs.Bool("h", false, "Show help message")
	helpLong := fs.Bool("help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *help || *helpLong {
		printReloadUsage(os.Stdout)
		return 0
	}

	path := *pidFile
	if envPid := os.Getenv("OBAREPL_PID_FILE"); envPid != "" {
		path = envPid
	}

	pid, err := readPIDFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to find process %d: %v\n", pid, err)
		return 1
	}

	if err := process.Signal(syscall.SIGHUP); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to send SIGHUP to process %d: %v\n", pid, err)
		return 1
	}

	fmt.Printf("Sent SIGHUP to obarepl process (PID %d)\n", pid)
	fmt.Println("Check server logs for reload status")
	return 0
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("PID file not found: %s (is the server running?)", path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, pidStr)
	}
	return pid, nil
}
