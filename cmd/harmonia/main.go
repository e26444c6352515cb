// Command harmonia runs one peer of a decentralized laptop-orchestra
// tempo/MIDI player. Grounded on the teacher's own main.go CLI dispatch
// shape (flag parsing, signal-driven context cancellation, a single
// blocking Run call), trimmed of the desktop-app and rendezvous-server
// branches this domain has no use for.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/harmonia/harmonia/internal/app"
	"github.com/harmonia/harmonia/internal/config"
	"github.com/harmonia/harmonia/internal/logging"
	"github.com/harmonia/harmonia/internal/midi"
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z".
var appVersion = "dev"

var (
	dataDirFlag  = flag.String("data-dir", "", "per-user data directory (default: ./harmonia-data)")
	nicknameFlag = flag.String("nickname", "", "local peer nickname")
	listenFlag   = flag.String("http", "", "admin HTTP listen address (overrides config)")
	disableLink  = flag.Bool("disable-link", false, "run single-peer, with no multicast tempo/group traffic")
	listPorts    = flag.Bool("list-ports", false, "list available MIDI output ports and exit")
	validateFile = flag.String("validate", "", "parse a MIDI file, report format/tracks, and exit (2 = unsupported format)")
	verbose      = flag.Bool("verbose", false, "enable debug logging")
	showVersion  = flag.Bool("version", false, "print version and exit")
)

// exitUnsupportedMIDI is spec.md §6's exit code 2 ("unsupported MIDI"),
// surfaced by --validate without needing to start the full peer process.
const exitUnsupportedMIDI = 2

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("harmonia v%s\n", appVersion)
		return
	}

	logging.SetDebug(*verbose)

	if *listPorts {
		for _, name := range midi.ListPorts() {
			fmt.Println(name)
		}
		return
	}

	if *validateFile != "" {
		validateAndExit(*validateFile)
		return
	}

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = "./harmonia-data"
	}
	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmonia: invalid data dir: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "harmonia: create data dir: %v\n", err)
		os.Exit(1)
	}

	cfgPath := filepath.Join(absDir, "harmonia.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmonia: load config: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("harmonia: wrote default config to %s\n", cfgPath)
	}

	cfg.Identity.DataDir = absDir
	if *nicknameFlag != "" {
		cfg.Identity.Nickname = *nicknameFlag
	}
	if *listenFlag != "" {
		cfg.HTTP.Addr = *listenFlag
	}
	if *disableLink {
		cfg.Tempo.DisableLink = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "harmonia: invalid config: %v\n", err)
		os.Exit(1)
	}

	printBanner(absDir, cfgPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nharmonia: shutting down...")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{DataDir: absDir, Cfg: cfg}); err != nil {
		fmt.Fprintf(os.Stderr, "harmonia: fatal: %v\n", err)
		os.Exit(1)
	}
}

// validateAndExit parses the named MIDI file and reports the outcome,
// using spec.md §6's exit codes directly: 0 playable, 1 unreadable/corrupt,
// 2 a structurally valid but unsupported SMF (format 2).
func validateAndExit(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmonia: read %s: %v\n", path, err)
		os.Exit(1)
	}
	parsed, err := midi.Parse(data)
	if err != nil {
		var unsupported *midi.ErrUnsupportedFormat
		if errors.As(err, &unsupported) {
			fmt.Fprintln(os.Stderr, unsupported.Error())
			os.Exit(exitUnsupportedMIDI)
		}
		fmt.Fprintf(os.Stderr, "harmonia: parse %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("%s: format %d, %d tracks, %d ticks/quarter, %d events\n",
		path, parsed.Format, parsed.TracksCount, parsed.TicksPerQuarter, len(parsed.Events))
}

func printBanner(dataDir, cfgPath string) {
	fmt.Println("────────────────────────────────────────")
	fmt.Println("Harmonia peer")
	fmt.Printf(" Data dir    : %s\n", dataDir)
	fmt.Printf(" Config file : %s\n", cfgPath)
	fmt.Println("────────────────────────────────────────")
}
