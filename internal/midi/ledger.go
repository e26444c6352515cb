package midi

// noteKey identifies a sounding note by channel and key number.
type noteKey struct {
	channel uint8
	key     uint8
}

// ledger tracks which (channel, key) pairs are currently sounding for the
// block the scheduler is running, so an interrupt, a preempting Play, or the
// end of the block can always emit a guaranteed note-off instead of leaving
// a note stuck (spec.md §4.5,
// §8 "no stuck notes" property).
type ledger struct {
	active map[noteKey]struct{}
}

func newLedger() *ledger {
	return &ledger{active: make(map[noteKey]struct{})}
}

func (l *ledger) noteOn(channel, key uint8) {
	l.active[noteKey{channel, key}] = struct{}{}
}

func (l *ledger) noteOff(channel, key uint8) {
	delete(l.active, noteKey{channel, key})
}

// channelsWithActiveNotes returns the distinct channels still holding a
// sounding note, in ascending order.
func (l *ledger) channelsWithActiveNotes() []uint8 {
	seen := make(map[uint8]struct{})
	for k := range l.active {
		seen[k.channel] = struct{}{}
	}
	chans := make([]uint8, 0, len(seen))
	for c := range seen {
		chans = append(chans, c)
	}
	for i := 1; i < len(chans); i++ {
		for j := i; j > 0 && chans[j-1] > chans[j]; j-- {
			chans[j-1], chans[j] = chans[j], chans[j-1]
		}
	}
	return chans
}

// activeKeys returns every (channel, key) still sounding, ordered by
// channel then key so cleanup emits note-offs in a deterministic order.
func (l *ledger) activeKeys() []noteKey {
	keys := make([]noteKey, 0, len(l.active))
	for k := range l.active {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && less(keys[j], keys[j-1]); j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func less(a, b noteKey) bool {
	if a.channel != b.channel {
		return a.channel < b.channel
	}
	return a.key < b.key
}

func (l *ledger) reset() {
	l.active = make(map[noteKey]struct{})
}

func (l *ledger) empty() bool { return len(l.active) == 0 }

// statusByte helpers — Harmonia classifies raw SMF channel-voice messages
// by status nibble directly, matching the byte-level approach the MIDI
// player in this pack falls back to for fields its parsing library doesn't
// expose a getter for.
const (
	statusNoteOff   = 0x8
	statusNoteOn    = 0x9
	statusCtlChange = 0xB

	ccAllNotesOff = 123
	ccSustain     = 64
)

// classify reports the channel-voice type of a raw message, or ok=false for
// anything else (meta/sysex have already been filtered out by Parse).
func classify(msg []byte) (kind uint8, channel, data1, data2 uint8, ok bool) {
	if len(msg) == 0 {
		return 0, 0, 0, 0, false
	}
	status := msg[0]
	if status < 0x80 {
		return 0, 0, 0, 0, false
	}
	kind = status >> 4
	channel = status & 0x0F
	if len(msg) > 1 {
		data1 = msg[1]
	}
	if len(msg) > 2 {
		data2 = msg[2]
	}
	return kind, channel, data1, data2, true
}

// noteOffMessage builds an explicit 0x8n note-off with velocity 0 for
// (channel, key), the form emitted for cleanup.
func noteOffMessage(channel, key uint8) []byte {
	return []byte{0x80 | channel, key, 0}
}

// allNotesOffMessages builds the CC123 + CC64=0 pair for a channel
// (spec.md §4.5 cleanup).
func allNotesOffMessages(channel uint8) [][]byte {
	return [][]byte{
		{0xB0 | channel, ccAllNotesOff, 0},
		{0xB0 | channel, ccSustain, 0},
	}
}
