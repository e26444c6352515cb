package app

import (
	"context"
	"time"

	"github.com/harmonia/harmonia/internal/bus"
	"github.com/harmonia/harmonia/internal/groups"
	"github.com/harmonia/harmonia/internal/midi"
	"github.com/harmonia/harmonia/internal/registry"
	"github.com/harmonia/harmonia/internal/storage"
	"github.com/harmonia/harmonia/internal/tempo"
)

// watchCacheForDroppedFiles ingests a MIDI payload an operator drops
// straight into the content cache directory by hand, outside the HTTP
// upload path — e.g. copying a .mid file in over SSH or a shared mount.
func watchCacheForDroppedFiles(ctx context.Context, cache *storage.Cache, reg *registry.Registry) error {
	return cache.Watch(ctx, func(digest string, removed bool) {
		if removed {
			return
		}
		for _, b := range reg.Iter() {
			if b.SHA1 == digest {
				return // already registered, most likely via the HTTP upload path
			}
		}
		data, err := cache.Get(digest)
		if err != nil {
			return
		}
		parsed, err := midi.Parse(data)
		if err != nil {
			log.Warnf("app: dropped file %s is not a playable MIDI file: %v", digest, err)
			return
		}
		id := reg.Insert(registry.Block{
			Kind:            registry.KindMidi,
			FileName:        digest + ".mid",
			SHA1:            digest,
			Format:          parsed.Format,
			TicksPerQuarter: parsed.TicksPerQuarter,
			TracksCount:     parsed.TracksCount,
			Events:          parsed.Events,
		})
		log.Infof("app: ingested dropped file %s as block %s", digest, id)
	})
}

const (
	snapshotInterval = 10 * time.Second
	regroupInterval  = 1 * time.Second
)

// registerGroupHandlers wires every distinct group currently present in
// the registry to a schedule callback that calls sched.Play at the agreed
// start_beat for each block in that group, in registry order. The
// scheduler runs one block at a time, so each Play preempts the one before
// it and only the group's last block keeps playing.
func registerGroupHandlers(reg *registry.Registry, grpMgr *groups.Manager, sched *midi.Scheduler) {
	seen := map[string]bool{}
	for _, b := range reg.Iter() {
		if b.Group == "" || seen[b.Group] {
			continue
		}
		seen[b.Group] = true
		group := b.Group
		grpMgr.Register(group, func(groupName string, startBeat float64) {
			for _, blk := range reg.ByGroup(groupName) {
				sched.Play(blk, tempo.BeatTime(startBeat))
			}
		})
	}
}

// periodicRegroup re-scans the registry for newly-assigned group names and
// registers handlers for them — a block's group can change after startup
// via the admin HTTP surface, at which point nothing else re-wires the
// groups.Manager.
func periodicRegroup(ctx context.Context, reg *registry.Registry, grpMgr *groups.Manager, sched *midi.Scheduler) {
	ticker := time.NewTicker(regroupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registerGroupHandlers(reg, grpMgr, sched)
		}
	}
}

// periodicSnapshot persists the registry at a steady cadence, independent
// of the final save on shutdown — a crash between saves loses at most one
// interval's worth of metadata edits, never MIDI payloads (those are
// already durable in the content cache the moment they're uploaded).
func periodicSnapshot(ctx context.Context, reg *registry.Registry, store *storage.SnapshotStore) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Save(reg.Iter()); err != nil {
				log.Warnf("app: periodic snapshot save failed: %v", err)
			}
		}
	}
}

// publishSnapshots pushes the tempo session's own Snapshot pushes onto the
// bus as bus.SnapshotEvent, translating tempo's internal peer/bpm/beat
// shape into the admin surface's event type.
func publishSnapshots(ctx context.Context, tempoSess *tempo.Session, eventBus *bus.Bus) {
	ch, cancel := tempoSess.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			eventBus.Publish(bus.SnapshotEvent{
				PeerCount: tempoSess.PeerCount(),
				IsPlaying: tempoSess.IsPlaying(),
				BPM:       snap.BPM,
				Beat:      float64(snap.Beat),
			})
		}
	}
}

// dispatchCommands is the bus's single command consumer: it translates
// every queued bus.Command into the corresponding scheduler/group action
// (spec.md §5 "one scheduler task per in-flight block").
func dispatchCommands(ctx context.Context, eventBus *bus.Bus, reg *registry.Registry, sched *midi.Scheduler, grpMgr *groups.Manager, tempoSess *tempo.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-eventBus.Commands():
			if !ok {
				return
			}
			switch c := cmd.(type) {
			case bus.PlayCommand:
				block, err := reg.Get(c.BlockID)
				if err != nil {
					log.Warnf("app: play command for unknown block %s: %v", c.BlockID, err)
					continue
				}
				if block.Group != "" {
					grpMgr.IssuePlay(block.Group)
					continue // the group handler itself calls sched.Play for every member
				}
				startBeat := groups.SoloStartBeat(float64(tempoSess.NowBeat()))
				sched.Play(block, tempo.BeatTime(startBeat))
			case bus.InterruptCommand:
				sched.Interrupt()
			case bus.ReloadOutputsCommand:
				log.Infof("app: reload-outputs requested; restart the process to rebind a MIDI port")
			}
		}
	}
}
