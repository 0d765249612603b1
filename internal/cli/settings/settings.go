// Package settings resolves the shared configuration for every command and
// implements the config and status commands.
package settings

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Murali47k/pig3on/internal/config"
	"github.com/Murali47k/pig3on/internal/session"
	"github.com/Murali47k/pig3on/internal/termio"
	"github.com/Murali47k/pig3on/internal/transport"
)

// Resolved is the effective configuration of one command run.
type Resolved struct {
	Config config.Config
	// Path is the config file the settings were loaded from.
	Path string
	// Args are the command arguments left after setting flags were taken.
	Args []string
}

// Resolve loads the persisted config (initializing it on first run), then
// applies PIG3ON_* variables and the setting flags in args, in that order.
func Resolve(args []string) (Resolved, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return Resolved{}, err
	}
	return resolve(path, args, os.Getenv)
}

func resolve(path string, args []string, getenv func(string) string) (Resolved, error) {
	cfg, err := config.Open(path)
	if err != nil {
		return Resolved{}, err
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return Resolved{}, err
	}

	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		key, ok := config.FlagKey(arg)
		if !ok {
			rest = append(rest, arg)
			continue
		}
		if i+1 >= len(args) {
			return Resolved{}, fmt.Errorf("missing value for %s", arg)
		}
		i++
		if err := cfg.Set(key, args[i]); err != nil {
			return Resolved{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Resolved{}, err
	}
	return Resolved{Config: cfg, Path: path, Args: rest}, nil
}

// RunConfig implements "pig3on config": without flags it prints the saved
// settings, with flags it updates and saves them.
func RunConfig(args []string) {
	if hasHelpFlag(args) {
		printConfigUsage()
		return
	}
	path, err := config.DefaultPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := runConfig(path, args, termio.Stdout()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		termio.Flush()
		os.Exit(2)
	}
	termio.Flush()
}

func runConfig(path string, args []string, w io.Writer) error {
	cfg, err := config.Open(path)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if fs.NFlag() > 0 {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(w, "Saved %s\n", path)
	}
	printConfig(w, path, cfg)
	return nil
}

// RunStatus implements "pig3on status".
func RunStatus(args []string) {
	if hasHelpFlag(args) {
		fmt.Fprintln(os.Stderr, "usage: pig3on status")
		return
	}
	res, err := Resolve(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	tr, err := transport.New(res.Config.Transport)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	manager := session.NewManager(res.Config.DeviceName, tr, nil)
	printStatus(termio.Stdout(), res.Config, manager.Status())
	termio.Flush()
}

const rule = "========================================"

func printStatus(w io.Writer, cfg config.Config, st session.Status) {
	fmt.Fprintln(w, "Pig3on Status")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Device Name: %s\n", st.DeviceName)
	fmt.Fprintf(w, "Version: %s\n", cfg.Version)
	fmt.Fprintf(w, "Connected: %s\n", yesNo(st.Connected))
	if st.Connected {
		fmt.Fprintf(w, "Peer: %s (%s)\n", st.PeerName, st.PeerAddress)
		fmt.Fprintf(w, "Connection Type: %s\n", st.ConnectionType)
	}
	fmt.Fprintf(w, "Discovery Port: %d/udp\n", cfg.DiscoveryPort)
	fmt.Fprintf(w, "Transfer Port: %d/%s\n", cfg.TransferPort, cfg.Transport)
	fmt.Fprintf(w, "Download Dir: %s\n", cfg.DownloadDir)
	fmt.Fprintln(w, rule)
}

func printConfig(w io.Writer, path string, cfg config.Config) {
	fmt.Fprintf(w, "config file:    %s\n", path)
	fmt.Fprintf(w, "name:           %s\n", cfg.DeviceName)
	fmt.Fprintf(w, "version:        %s\n", cfg.Version)
	fmt.Fprintf(w, "discovery-port: %d\n", cfg.DiscoveryPort)
	fmt.Fprintf(w, "transfer-port:  %d\n", cfg.TransferPort)
	fmt.Fprintf(w, "download-dir:   %s\n", cfg.DownloadDir)
	fmt.Fprintf(w, "transport:      %s\n", cfg.Transport)
	fmt.Fprintf(w, "log-level:      %s\n", cfg.LogLevel)
	fmt.Fprintf(w, "scan-timeout:   %s\n", cfg.ScanTimeout)
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "usage: pig3on config [--<setting> value]...")
	fmt.Fprintln(os.Stderr, "without settings, prints the saved configuration")
	fmt.Fprintln(os.Stderr, "settings:")
	for _, line := range config.Usage() {
		fmt.Fprintf(os.Stderr, "  %s\n", line)
	}
}

// SettingsUsage prints the setting flags every command accepts.
func SettingsUsage(w io.Writer) {
	fmt.Fprintln(w, "settings (override ~/.pig3on/config.json and PIG3ON_* for this run):")
	for _, line := range config.Usage() {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
