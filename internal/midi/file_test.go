package midi

import (
	"bytes"
	"testing"
)

// buildTestSMF constructs a minimal single-track SMF (given format and ppq),
// following the same raw byte-chunk layout this pack's reference MIDI
// player test fixture uses.
func buildTestSMF(format uint16, ppq uint16, trackBytes []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("MThd")
	buf.Write([]byte{0, 0, 0, 6})
	buf.Write([]byte{byte(format >> 8), byte(format)})
	buf.Write([]byte{0, 1}) // ntrks = 1
	buf.Write([]byte{byte(ppq >> 8), byte(ppq)})

	buf.WriteString("MTrk")
	length := len(trackBytes)
	buf.Write([]byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)})
	buf.Write(trackBytes)
	return buf.Bytes()
}

func varint(v int) []byte {
	var b []byte
	b = append(b, byte(v&0x7F))
	v >>= 7
	for v > 0 {
		b = append(b, byte(v&0x7F)|0x80)
		v >>= 7
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

func noteOnOffTrack() []byte {
	var t bytes.Buffer
	t.Write(varint(0))
	t.Write([]byte{0x90, 60, 100}) // note on ch0 key60 vel100
	t.Write(varint(480))
	t.Write([]byte{0x80, 60, 0}) // note off ch0 key60
	t.Write(varint(0))
	t.Write([]byte{0xFF, 0x2F, 0x00}) // end of track
	return t.Bytes()
}

func TestParseSingleTrackNoteOnOff(t *testing.T) {
	data := buildTestSMF(0, 480, noteOnOffTrack())
	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.TicksPerQuarter != 480 {
		t.Fatalf("expected ppq 480, got %d", p.TicksPerQuarter)
	}
	if len(p.Events) != 2 {
		t.Fatalf("expected 2 playable events, got %d: %+v", len(p.Events), p.Events)
	}
	if p.Events[0].DeltaTicks != 0 || p.Events[1].DeltaTicks != 480 {
		t.Fatalf("unexpected delta ticks: %+v", p.Events)
	}
}

func TestParseRejectsFormat2(t *testing.T) {
	data := buildTestSMF(2, 480, noteOnOffTrack())
	_, err := Parse(data)
	if err == nil {
		t.Fatalf("expected format 2 rejection")
	}
	if _, ok := err.(*ErrUnsupportedFormat); !ok {
		t.Fatalf("expected ErrUnsupportedFormat, got %T: %v", err, err)
	}
}

func TestParseTruncatedHeader(t *testing.T) {
	_, err := Parse([]byte("short"))
	if err != ErrTruncatedHeader {
		t.Fatalf("expected ErrTruncatedHeader, got %v", err)
	}
}

func TestParseConsumesTempoMetaInformationally(t *testing.T) {
	var track bytes.Buffer
	track.Write(varint(0))
	track.Write([]byte{0xFF, 0x51, 0x03, 0x07, 0xA1, 0x20}) // set tempo 500000us/beat
	track.Write(varint(0))
	track.Write([]byte{0x90, 60, 100})
	track.Write(varint(120))
	track.Write([]byte{0x80, 60, 0})
	track.Write(varint(0))
	track.Write([]byte{0xFF, 0x2F, 0x00})

	p, err := Parse(buildTestSMF(0, 480, track.Bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.HadTempoMeta {
		t.Fatalf("expected HadTempoMeta to be true")
	}
	if len(p.Events) != 2 {
		t.Fatalf("tempo meta must not appear among playable events, got %d", len(p.Events))
	}
}
