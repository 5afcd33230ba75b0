package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/imtaco/video-rtc-exp/internal/engine"
)

// Producer is an inbound media track published by a session.
type Producer struct {
	ID        string
	SessionID string
	Kind      engine.MediaKind
}

// Session is one connected participant: at most one transport per kind and
// at most one producer per media kind.
type Session struct {
	ID         string
	UserID     string
	Transports map[engine.TransportKind]*engine.WebRTCTransportInfo
	Producers  map[engine.MediaKind]*Producer
}

func newSession(id, userID string) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		Transports: make(map[engine.TransportKind]*engine.WebRTCTransportInfo),
		Producers:  make(map[engine.MediaKind]*Producer),
	}
}

// Room is the aggregate owning all per-room state: participant sessions,
// the routing context and the HLS pipeline state. All mutation goes through
// its mutex; none of the locked sections performs engine or process I/O.
type Room struct {
	id        string
	router    engine.Router
	createdAt time.Time

	mu       sync.Mutex
	closed   bool
	sessions map[string]*Session

	// HLS pipeline state. The fingerprint survives a failed rebuild (it is
	// replaced only by a successful commit and cleared only by an
	// empty-candidate teardown), while live is cleared on every teardown.
	fingerprint string
	live        *LivePipeline
	generation  uint64

	// rebuild coalescing gate
	restarting     bool
	pendingRestart bool
}

func NewRoom(id string, router engine.Router) *Room {
	return &Room{
		id:        id,
		router:    router,
		createdAt: time.Now().UTC(),
		sessions:  make(map[string]*Session),
	}
}

func (r *Room) ID() string            { return r.id }
func (r *Room) Router() engine.Router { return r.router }
func (r *Room) CreatedAt() time.Time  { return r.createdAt }

// MarkClosed flags the room as destroyed. Late rebuild loops observe the flag
// and give up instead of touching a released router.
func (r *Room) MarkClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// AddSession registers a participant, idempotent per session id.
func (r *Room) AddSession(sessionID, userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s
	}
	s := newSession(sessionID, userID)
	r.sessions[sessionID] = s
	return s
}

// RemoveSession drops a participant and returns its state for teardown,
// plus whether the room is now empty.
func (r *Room) RemoveSession(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	return s, len(r.sessions) == 0
}

func (r *Room) Session(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Transport returns the session's transport of the given kind, if created.
func (r *Room) Transport(sessionID string, kind engine.TransportKind) (*engine.WebRTCTransportInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	t, ok := s.Transports[kind]
	return t, ok
}

func (r *Room) SetTransport(sessionID string, kind engine.TransportKind, info *engine.WebRTCTransportInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.Transports[kind] = info
	}
}

// SetProducer registers a producer, returning the superseded same-kind
// producer id (empty if none). The caller closes the superseded one.
func (r *Room) SetProducer(sessionID string, kind engine.MediaKind, producerID string) (old string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ""
	}
	if prev, ok := s.Producers[kind]; ok {
		old = prev.ID
	}
	s.Producers[kind] = &Producer{ID: producerID, SessionID: sessionID, Kind: kind}
	return old
}

// RemoveProducer unregisters the session's producer of the given kind and
// returns its id.
func (r *Room) RemoveProducer(sessionID string, kind engine.MediaKind) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	p, ok := s.Producers[kind]
	if !ok {
		return "", false
	}
	delete(s.Producers, kind)
	return p.ID, true
}

// ProducerByID resolves a producer by id across all participants.
func (r *Room) ProducerByID(producerID string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		for _, p := range s.Producers {
			if p.ID == producerID {
				return p, true
			}
		}
	}
	return nil, false
}

// Producers snapshots all open producers with their owners' user ids.
func (r *Room) Producers() []ProducerSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ProducerSummary
	for _, s := range r.sessions {
		for _, p := range s.Producers {
			out = append(out, ProducerSummary{
				UserID:     s.UserID,
				ProducerID: p.ID,
				Kind:       p.Kind,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProducerID < out[j].ProducerID })
	return out
}

// FullAVCandidates lists sessions holding both an audio and a video producer,
// ordered by session id.
func (r *Room) FullAVCandidates() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Candidate
	for _, s := range r.sessions {
		audio, okA := s.Producers[engine.MediaKindAudio]
		video, okV := s.Producers[engine.MediaKindVideo]
		if !okA || !okV {
			continue
		}
		out = append(out, Candidate{
			SessionID:       s.ID,
			AudioProducerID: audio.ID,
			VideoProducerID: video.ID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// BeginRebuild attempts to take the per-room rebuild slot. When a rebuild is
// already running it only marks the pending bit and returns false: at most
// one rebuild per room is ever in flight.
func (r *Room) BeginRebuild() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restarting {
		r.pendingRestart = true
		return false
	}
	r.restarting = true
	return true
}

// FinishRebuild releases the slot. If a trigger arrived meanwhile, the
// pending bit is consumed, the slot stays held and the caller must run
// exactly one more rebuild against the then-current producer set.
func (r *Room) FinishRebuild() (again bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingRestart {
		r.pendingRestart = false
		return true
	}
	r.restarting = false
	return false
}

// Rebuilding reports whether a rebuild is in flight. Test hook.
func (r *Room) Rebuilding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarting
}

func (r *Room) Fingerprint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fingerprint
}

// Live returns the committed pipeline, nil when none is running.
func (r *Room) Live() *LivePipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// TakeLive detaches the committed pipeline for teardown.
func (r *Room) TakeLive() *LivePipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.live
	r.live = nil
	return live
}

// ClearFingerprint resets the no-op check; used when the candidate set
// becomes empty.
func (r *Room) ClearFingerprint() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingerprint = ""
}

// CommitPipeline stores a fully built generation and its fingerprint. It
// refuses the commit when the room was destroyed in the meantime, under the
// same lock MarkClosed takes, so a late rebuild can never attach a pipeline
// to a closed room. The caller owns the rejected pipeline's teardown.
func (r *Room) CommitPipeline(fingerprint string, live *LivePipeline) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.fingerprint = fingerprint
	r.live = live
	return true
}

// NextGeneration allocates a monotonically increasing rebuild generation.
func (r *Room) NextGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	return r.generation
}

// Summary renders the REST view of the room.
func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RoomSummary{
		RoomID:       r.id,
		Participants: len(r.sessions),
		Live:         r.live != nil,
		CreatedAt:    r.createdAt,
	}
	if r.live != nil {
		s.HLSPath = r.id + "/stream.m3u8"
	}
	return s
}
