// Package app wires Harmonia's components into a running process: load
// config, restore persisted state, start the tempo/group protocols, drive
// the MIDI scheduler off the command bus, and serve the admin HTTP surface.
// Grounded on the teacher's own internal/app/run.go Run/runPeer shape —
// one Options struct in, one blocking Run call, signal-driven shutdown —
// trimmed of the desktop/rendezvous/credits branches this domain has no use
// for.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/harmonia/harmonia/internal/bus"
	"github.com/harmonia/harmonia/internal/clock"
	"github.com/harmonia/harmonia/internal/config"
	"github.com/harmonia/harmonia/internal/groups"
	"github.com/harmonia/harmonia/internal/httpapi"
	"github.com/harmonia/harmonia/internal/logging"
	"github.com/harmonia/harmonia/internal/midi"
	"github.com/harmonia/harmonia/internal/registry"
	"github.com/harmonia/harmonia/internal/shm"
	"github.com/harmonia/harmonia/internal/storage"
	"github.com/harmonia/harmonia/internal/tempo"
)

var log = logging.Named("app")

// Options is everything a running peer needs, resolved by the caller
// (cmd/harmonia) before Run starts.
type Options struct {
	DataDir string
	Cfg     config.Config
}

// Run wires the whole process together and blocks until ctx is cancelled,
// then shuts down cleanly (stop any in-flight notes, let in-flight
// snapshot writes finish).
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	clk := clock.New()

	tempoSess := tempo.New(clk,
		tempoOpts(cfg)...,
	)

	reg := registry.New()
	snapStore := storage.NewSnapshotStore(filepath.Join(opt.DataDir, "registry.bin"))
	if blocks, err := snapStore.Load(); err != nil {
		return fmt.Errorf("app: load registry snapshot: %w", err)
	} else {
		for _, b := range blocks {
			reg.Insert(b)
		}
	}

	nickStore := storage.NewNicknameStore(filepath.Join(opt.DataDir, "nickname.txt"))
	if cfg.Identity.Nickname == "" {
		if nick, err := nickStore.Load(); err == nil && nick != "" {
			cfg.Identity.Nickname = nick
		}
	} else {
		_ = nickStore.Save(cfg.Identity.Nickname)
	}

	cache, err := storage.NewCache(filepath.Join(opt.DataDir, "cache"))
	if err != nil {
		return fmt.Errorf("app: open content cache: %w", err)
	}

	eventBus := bus.New()

	grpMgr := groups.New(tempoSess.PeerID(), func() float64 { return float64(tempoSess.NowBeat()) },
		groupOpts(cfg)...,
	)

	var output midi.Output = noopOutput{}
	if port, err := midi.OpenPort(cfg.MIDI.OutputPort); err != nil {
		log.Warnf("app: no MIDI output available, running silent: %v", err)
	} else {
		output = port
		defer port.Close()
	}

	sched := midi.New(clk, tempoSess, output, func(blockID uuid.UUID, playing bool) {
		_ = reg.SetPlaying(blockID, playing)
		eventBus.Publish(bus.PlayingStateChangedEvent{BlockID: blockID, Playing: playing})
	})

	registerGroupHandlers(reg, grpMgr, sched)

	shmPub, err := shm.Open(shm.DefaultPath)
	if err != nil {
		log.Warnf("app: shared-memory beat publisher unavailable: %v", err)
	}

	srv := httpapi.New(reg, cache, eventBus)
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.Handler()}

	go func() {
		log.Infof("app: admin HTTP listening on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("app: http server: %v", err)
		}
	}()

	// A multicast bind failure on either channel is the fatal startup
	// condition spec.md §6 calls out ("cannot bind multicast on any
	// interface") — give each loop a short window to fail fast before
	// treating startup as having succeeded.
	tempoErr := make(chan error, 1)
	groupErr := make(chan error, 1)
	go func() { tempoErr <- tempoSess.Run(ctx) }()
	go func() { groupErr <- grpMgr.Run(ctx) }()
	go func() { _ = eventBus.Run(ctx) }()

	select {
	case err := <-tempoErr:
		if err != nil {
			return fmt.Errorf("app: tempo session failed to start: %w", err)
		}
	case err := <-groupErr:
		if err != nil {
			return fmt.Errorf("app: group protocol failed to start: %w", err)
		}
	case <-time.After(300 * time.Millisecond):
	}
	if shmPub != nil {
		go func() {
			_ = shm.Run(ctx, shmPub, func() float64 { return float64(tempoSess.NowBeat()) })
		}()
	}
	if err := watchCacheForDroppedFiles(ctx, cache, reg); err != nil {
		log.Warnf("app: content cache watcher unavailable: %v", err)
	}
	go publishSnapshots(ctx, tempoSess, eventBus)
	go dispatchCommands(ctx, eventBus, reg, sched, grpMgr, tempoSess)
	go periodicRegroup(ctx, reg, grpMgr, sched)
	go periodicSnapshot(ctx, reg, snapStore)

	<-ctx.Done()
	log.Infof("app: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	sched.Interrupt()
	if shmPub != nil {
		_ = shmPub.Close()
	}
	if err := snapStore.Save(reg.Iter()); err != nil {
		log.Warnf("app: final snapshot save failed: %v", err)
	}
	return nil
}

func tempoOpts(cfg config.Config) []tempo.Option {
	opts := []tempo.Option{tempo.WithMulticastAddr(cfg.Tempo.MulticastGroup, cfg.Tempo.Port)}
	if cfg.Tempo.DisableLink {
		opts = append(opts, tempo.WithDisableLink())
	}
	return opts
}

func groupOpts(cfg config.Config) []groups.Option {
	opts := []groups.Option{
		groups.WithMulticastAddr(cfg.Groups.MulticastGroup, cfg.Groups.Port),
		groups.WithQuantum(cfg.Groups.Quantum),
	}
	if cfg.Tempo.DisableLink {
		opts = append(opts, groups.WithDisableLink())
	}
	return opts
}

// noopOutput discards every message — used when no MIDI output port could
// be opened at startup, so the rest of the process still runs (spec.md §7:
// missing MIDI hardware is not a fatal startup condition).
type noopOutput struct{}

func (noopOutput) Send(msg []byte) error { return nil }
