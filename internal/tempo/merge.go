package tempo

import (
	"bytes"
	"net"
	"time"

	"github.com/google/uuid"
)

// nowTime is wall-clock time used only for peer last-seen bookkeeping
// (eviction), distinct from the monotonic beat-math clock in internal/clock.
func nowTime() time.Time { return time.Now() }

// handleFrame is the session's multicast receive callback (§4.2). It is
// called with the raw bytes of every datagram multicastTransport.receiveLoop
// receives, and decodes them itself.
func (s *Session) handleFrame(data []byte, from *net.UDPAddr) {
	frame, err := Decode(data)
	if err != nil {
		// malformed/foreign datagram on our group — log and move on,
		// the protocol is self-healing (§7)
		log.Debugf("tempo: dropping undecodable datagram from %v: %v", from, err)
		return
	}
	if frame.Payload.PeerID == s.peerID {
		return // our own broadcast, looped back
	}

	switch frame.Kind {
	case KindByeBye:
		s.mu.Lock()
		delete(s.peers, frame.Payload.PeerID)
		s.mu.Unlock()
		return
	case KindAlive, KindResponse:
		s.mergeAliveOrResponse(frame.Payload, from)
	}
}

func (s *Session) mergeAliveOrResponse(p Payload, from *net.UDPAddr) {
	recvMicros := s.clock.NowMicros()
	offsetSample := float64(int64(recvMicros)) - float64(int64(p.TxHostMicros))

	s.mu.Lock()
	peer, known := s.peers[p.PeerID]
	if !known {
		peer = &PeerState{PeerID: p.PeerID}
		s.peers[p.PeerID] = peer
	}
	peer.SessionID = p.SessionID
	peer.BPM = p.BPM
	peer.StartStop = StartStopState{IsPlaying: p.IsPlaying, AtBeat: p.AtBeat}
	peer.offsetSamples = ema(peer.offsetSamples, offsetSample)
	offset := smoothedOffset(peer.offsetSamples)
	peer.T0HostMicros = p.T0HostMicros + int64(offset)
	peer.LastSeen = nowTime()
	s.mu.Unlock()

	s.considerSessionMerge(p.SessionID, peer.T0HostMicros, p.BPM)
	s.considerStartStop(p.SessionID, p.PeerID, StartStopState{IsPlaying: p.IsPlaying, AtBeat: p.AtBeat})

	if !known && !s.disableLink && s.transport != nil {
		s.transport.unicast(from, Encode(KindResponse, s.localPayload()))
	}
}

// considerSessionMerge implements the session-id resolution rule (§4.2):
// the lower session_id wins and its (t0, bpm) are adopted, translated into
// this peer's own clock frame. Once session_ids already match, tempo
// changes are accepted from any peer.
func (s *Session) considerSessionMerge(remoteSession uuid.UUID, translatedT0 int64, bpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case bytes.Equal(remoteSession[:], s.sessionID[:]):
		s.line.set(translatedT0, bpm)
	case lessUUID(remoteSession, s.sessionID):
		s.sessionID = remoteSession
		s.line.set(translatedT0, bpm)
	default:
		// our session_id is lower (or we're mid-merge toward becoming the
		// minimum); the other peer will adopt ours once it sees our Alive.
	}
}

// considerStartStop accepts a remote start/stop intent only if its at_beat
// is strictly greater than the currently known one, breaking ties by lower
// peer_id (§4.2).
func (s *Session) considerStartStop(remoteSession uuid.UUID, remotePeer uuid.UUID, ss StartStopState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !bytes.Equal(remoteSession[:], s.sessionID[:]) {
		return
	}
	switch {
	case ss.AtBeat > s.startStop.AtBeat:
		s.startStop = ss
	case ss.AtBeat == s.startStop.AtBeat && lessUUID(remotePeer, s.peerID):
		s.startStop = ss
	}
}

// evictStale drops peers silent for more than 3x the alive interval (§4.2).
func (s *Session) evictStale() {
	cutoff := nowTime().Add(-evictAfter)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.peers {
		if p.LastSeen.Before(cutoff) {
			delete(s.peers, id)
		}
	}
}

func lessUUID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// emaAlpha weights how quickly the offset estimate adapts to new samples
// vs. smooths out single-datagram jitter.
const emaAlpha = 0.2

func ema(history []float64, sample float64) []float64 {
	if len(history) == 0 {
		return []float64{sample}
	}
	prev := history[len(history)-1]
	smoothed := emaAlpha*sample + (1-emaAlpha)*prev
	return []float64{smoothed}
}

func smoothedOffset(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1]
}
