package tempo

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
)

// Magic identifies the tempo-session multicast channel on the wire (§6).
// Distinct from the groups channel's magic so a stray datagram on either
// multicast group is rejected immediately.
var Magic = [8]byte{'_', 'a', 's', 'd', 'p', '_', 'v', '1'}

type Kind byte

const (
	KindAlive Kind = iota
	KindResponse
	KindByeBye
)

var ErrBadFrame = errors.New("tempo: malformed frame")
var ErrBadMagic = errors.New("tempo: bad magic")

// Payload is the decoded body shared by Alive and Response messages.
type Payload struct {
	PeerID       uuid.UUID
	SessionID    uuid.UUID
	T0HostMicros int64
	BPM          float64
	IsPlaying    bool
	AtBeat       BeatTime
	TxHostMicros uint64
}

// Frame is one decoded datagram: magic-checked, kind-tagged, payload parsed.
type Frame struct {
	Kind    Kind
	Payload Payload // zero value for ByeBye beyond PeerID/SessionID
}

const payloadLen = 16 + 16 + 8 + 8 + 1 + 8 + 8 // 65 bytes
const byeByeLen = 16 + 16                      // 32 bytes

// Encode writes magic || kind || uint32(length) || payload.
// Integers little-endian; UUIDs as 16 bytes big-endian (their natural form).
func Encode(kind Kind, p Payload) []byte {
	var body []byte
	switch kind {
	case KindByeBye:
		body = make([]byte, byeByeLen)
		copy(body[0:16], p.PeerID[:])
		copy(body[16:32], p.SessionID[:])
	default:
		body = make([]byte, payloadLen)
		copy(body[0:16], p.PeerID[:])
		copy(body[16:32], p.SessionID[:])
		binary.LittleEndian.PutUint64(body[32:40], uint64(p.T0HostMicros))
		binary.LittleEndian.PutUint64(body[40:48], math.Float64bits(p.BPM))
		if p.IsPlaying {
			body[48] = 1
		}
		binary.LittleEndian.PutUint64(body[49:57], math.Float64bits(float64(p.AtBeat)))
		binary.LittleEndian.PutUint64(body[57:65], p.TxHostMicros)
	}

	out := make([]byte, 0, 8+1+4+len(body))
	out = append(out, Magic[:]...)
	out = append(out, byte(kind))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

// Decode parses a raw datagram, validating magic and declared length.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 8+1+4 {
		return Frame{}, ErrBadFrame
	}
	var gotMagic [8]byte
	copy(gotMagic[:], buf[:8])
	if gotMagic != Magic {
		return Frame{}, ErrBadMagic
	}
	kind := Kind(buf[8])
	declared := binary.LittleEndian.Uint32(buf[9:13])
	body := buf[13:]
	if uint32(len(body)) < declared {
		return Frame{}, ErrBadFrame
	}
	body = body[:declared]

	f := Frame{Kind: kind}
	switch kind {
	case KindByeBye:
		if len(body) < byeByeLen {
			return Frame{}, ErrBadFrame
		}
		copy(f.Payload.PeerID[:], body[0:16])
		copy(f.Payload.SessionID[:], body[16:32])
	case KindAlive, KindResponse:
		if len(body) < payloadLen {
			return Frame{}, ErrBadFrame
		}
		copy(f.Payload.PeerID[:], body[0:16])
		copy(f.Payload.SessionID[:], body[16:32])
		f.Payload.T0HostMicros = int64(binary.LittleEndian.Uint64(body[32:40]))
		f.Payload.BPM = math.Float64frombits(binary.LittleEndian.Uint64(body[40:48]))
		f.Payload.IsPlaying = body[48] != 0
		f.Payload.AtBeat = BeatTime(math.Float64frombits(binary.LittleEndian.Uint64(body[49:57])))
		f.Payload.TxHostMicros = binary.LittleEndian.Uint64(body[57:65])
	default:
		return Frame{}, ErrBadFrame
	}
	return f, nil
}
