// Package groups implements linky_groups, the participatory-start overlay
// (spec.md §4.3): an optional sub-session letting arbitrary subsets of
// peers agree to begin playback together at a quantized beat boundary.
// Grounded on internal teacher package "group" (petervdpas/goop2's
// internal/group/manager.go), which solves the identical shape of problem —
// a named subset of peers coordinating — re-expressed here over a second
// multicast channel with Harmonia's bit-exact wire framing instead of
// libp2p streams.
package groups

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
)

// Magic distinguishes the groups multicast channel from the tempo channel
// (spec.md §6: "distinct 8-byte magic for groups").
var Magic = [8]byte{'_', 'g', 'r', 'p', '_', 'v', '1', 0}

type Kind byte

const (
	KindIntent Kind = iota
	KindAck
)

var ErrBadFrame = errors.New("groups: malformed frame")
var ErrBadMagic = errors.New("groups: bad magic")

// Intent is broadcast when a peer wishes to start a group at a given beat.
type Intent struct {
	GroupName  string
	StartBeat  float64
	IssuerPeer uuid.UUID
}

// Ack is a unicast reply confirming receipt of an Intent; best-effort,
// never waited on by the issuer (spec.md §4.3, §5).
type Ack struct {
	GroupName  string
	StartBeat  float64
	IssuerPeer uuid.UUID
	AckPeer    uuid.UUID
}

// EncodeIntent and EncodeAck serialize a frame as magic || kind || len(uint32) ||
// body, little-endian integers, beats as float64, UUIDs as 16 raw bytes
// (spec.md §6).
func EncodeIntent(i Intent) []byte {
	return encode(KindIntent, i.GroupName, i.StartBeat, i.IssuerPeer, uuid.Nil)
}

func EncodeAck(a Ack) []byte {
	return encode(KindAck, a.GroupName, a.StartBeat, a.IssuerPeer, a.AckPeer)
}

func encode(kind Kind, group string, startBeat float64, issuer, ack uuid.UUID) []byte {
	nameBytes := []byte(group)
	body := make([]byte, 2+len(nameBytes)+8+16+16)
	off := 0
	binary.LittleEndian.PutUint16(body[off:], uint16(len(nameBytes)))
	off += 2
	copy(body[off:], nameBytes)
	off += len(nameBytes)
	binary.LittleEndian.PutUint64(body[off:], math.Float64bits(startBeat))
	off += 8
	copy(body[off:], issuer[:])
	off += 16
	copy(body[off:], ack[:])

	out := make([]byte, 0, 8+1+4+len(body))
	out = append(out, Magic[:]...)
	out = append(out, byte(kind))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

// Frame is a decoded groups-channel datagram.
type Frame struct {
	Kind      Kind
	Intent    Intent
	Ack       Ack
}

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

	if len(body) < 2 {
		return Frame{}, ErrBadFrame
	}
	nameLen := int(binary.LittleEndian.Uint16(body[0:2]))
	off := 2
	if len(body) < off+nameLen+8+16+16 {
		return Frame{}, ErrBadFrame
	}
	name := string(body[off : off+nameLen])
	off += nameLen
	startBeat := math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	var issuer, ack uuid.UUID
	copy(issuer[:], body[off:off+16])
	off += 16
	copy(ack[:], body[off:off+16])

	switch kind {
	case KindIntent:
		return Frame{Kind: kind, Intent: Intent{GroupName: name, StartBeat: startBeat, IssuerPeer: issuer}}, nil
	case KindAck:
		return Frame{Kind: kind, Ack: Ack{GroupName: name, StartBeat: startBeat, IssuerPeer: issuer, AckPeer: ack}}, nil
	default:
		return Frame{}, ErrBadFrame
	}
}
