package midi

import (
	"github.com/harmonia/harmonia/internal/registry"
	"github.com/harmonia/harmonia/internal/tempo"
)

// schedEvent is one block event resolved to a beat position, ready for the
// scheduler's dispatch loop.
type schedEvent struct {
	tick               uint32
	beat               tempo.BeatTime
	msg                []byte
	channel, key        uint8
	isNoteOn, isNoteOff bool
	pairIdx             int // index of the matching note-off, or -1
}

// buildSchedule resolves a block's stored (delta_ticks, message) pairs into
// absolute-tick, absolute-beat schedEvents and pairs each note-on with its
// note-off so the scheduler can fix the note-off's real time at the moment
// the note-on actually fires (spec.md §4.5).
func buildSchedule(block registry.Block, startBeat tempo.BeatTime) []schedEvent {
	out := make([]schedEvent, 0, len(block.Events))
	var tick uint32
	openNote := make(map[noteKey]int)

	for _, ev := range block.Events {
		tick += ev.DeltaTicks
		beat := startBeat + tempo.BeatTime(tick)/tempo.BeatTime(block.TicksPerQuarter)

		se := schedEvent{tick: tick, beat: beat, msg: ev.Message, pairIdx: -1}

		if kind, channel, key, vel, ok := classify(ev.Message); ok {
			se.channel, se.key = channel, key
			switch {
			case kind == statusNoteOn && vel > 0:
				se.isNoteOn = true
				openNote[noteKey{channel, key}] = len(out)
			case kind == statusNoteOn || kind == statusNoteOff:
				se.isNoteOff = true
				if idx, open := openNote[noteKey{channel, key}]; open {
					out[idx].pairIdx = len(out)
					delete(openNote, noteKey{channel, key})
				}
			}
		}

		out = append(out, se)
	}
	return out
}
