package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/imtaco/video-rtc-exp/hls"
	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/engine/fakes"
	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/rooms"
)

type fakeHandle struct {
	mu      sync.Mutex
	stopped bool
}

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
}

func (h *fakeHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type startCall struct {
	roomID     string
	generation uint64
	legs       []hls.SDPLeg
	handle     *fakeHandle
}

type fakeTranscoder struct {
	mu       sync.Mutex
	starts   []startCall
	removed  []string
	startErr error

	// blockStart, when non-nil, makes Start wait until the channel closes.
	blockStart chan struct{}
	started    chan struct{}
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{started: make(chan struct{}, 16)}
}

func (t *fakeTranscoder) Start(_ context.Context, roomID string, generation uint64, legs []hls.SDPLeg) (rooms.TranscodeHandle, string, error) {
	t.mu.Lock()
	block := t.blockStart
	t.mu.Unlock()

	t.started <- struct{}{}
	if block != nil {
		<-block
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return nil, "", t.startErr
	}
	handle := &fakeHandle{}
	t.starts = append(t.starts, startCall{
		roomID:     roomID,
		generation: generation,
		legs:       legs,
		handle:     handle,
	})
	return handle, fmt.Sprintf("/tmp/hls/%s/gen-%d", roomID, generation), nil
}

func (t *fakeTranscoder) RemoveOutput(roomID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removed = append(t.removed, roomID)
	return nil
}

func (t *fakeTranscoder) startCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.starts)
}

func (t *fakeTranscoder) lastStart() startCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts[len(t.starts)-1]
}

// fakePortAllocator hands out sequential even RTP ports from a base.
type fakePortAllocator struct {
	mu   sync.Mutex
	next int
	err  error
}

func (a *fakePortAllocator) Allocate() (rooms.PortPair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return rooms.PortPair{}, a.err
	}
	port := a.next
	a.next += 2
	return rooms.PortPair{RTP: port, RTCP: port + 1}, nil
}

type OrchestratorTestSuite struct {
	suite.Suite
	transcoder *fakeTranscoder
	audio      *fakePortAllocator
	video      *fakePortAllocator
	orch       *Orchestrator
	ctx        context.Context
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorTestSuite))
}

func (s *OrchestratorTestSuite) SetupTest() {
	s.transcoder = newFakeTranscoder()
	s.audio = &fakePortAllocator{next: 40000}
	s.video = &fakePortAllocator{next: 50000}
	s.ctx = context.Background()

	s.orch = New(
		s.transcoder,
		s.audio,
		s.video,
		Config{
			KeyframeAttempts: 2,
			KeyframeInterval: time.Millisecond,
			CleanupGrace:     time.Hour,
		},
		clockwork.NewRealClock(),
		log.NewNop(),
	)
}

func (s *OrchestratorTestSuite) TearDownTest() {
	s.orch.Shutdown()
}

// publishingRoom returns a room with n sessions each publishing audio+video.
func (s *OrchestratorTestSuite) publishingRoom(n int) (*rooms.Room, *fakes.Router) {
	router := fakes.NewRouter("router-1")
	room := rooms.NewRoom("room-1", router)
	for i := 1; i <= n; i++ {
		sessionID := fmt.Sprintf("sess-%d", i)
		room.AddSession(sessionID, fmt.Sprintf("user-%d", i))
		room.SetProducer(sessionID, engine.MediaKindAudio, fmt.Sprintf("prod-audio-%d", i))
		room.SetProducer(sessionID, engine.MediaKindVideo, fmt.Sprintf("prod-video-%d", i))
	}
	return room, router
}

func (s *OrchestratorTestSuite) TestRebuildCommitsPipeline() {
	room, router := s.publishingRoom(2)

	s.Require().NoError(s.orch.rebuild(s.ctx, room))

	live := room.Live()
	s.Require().NotNil(live)
	s.Len(live.Legs, 2)
	s.NotEmpty(room.Fingerprint())

	// one audio and one video transport per candidate
	s.Len(router.Transports, 4)
	s.Len(router.PlainConnects, 4)
	for _, pc := range router.PlainConnects {
		s.Equal("127.0.0.1", pc.IP)
		s.Equal(0, pc.Port%2)
		s.Equal(pc.Port+1, pc.RtcpPort)
	}

	// audio and video ports come from disjoint ranges
	for _, leg := range live.Legs {
		s.GreaterOrEqual(leg.AudioPorts.RTP, 40000)
		s.Less(leg.AudioPorts.RTP, 50000)
		s.GreaterOrEqual(leg.VideoPorts.RTP, 50000)
	}

	// one audio and one video consumer per candidate
	s.Len(router.Consumers, 4)

	// keyframe retries hit each video consumer
	for _, leg := range live.Legs {
		s.Equal(2, router.KeyframeRequests[leg.VideoConsumerID])
	}
}

func (s *OrchestratorTestSuite) TestFingerprintNoOp() {
	room, router := s.publishingRoom(1)

	s.Require().NoError(s.orch.rebuild(s.ctx, room))
	transportsAfterFirst := len(router.Transports)
	s.Equal(1, s.transcoder.startCount())

	// same producer set: no resource churn
	s.Require().NoError(s.orch.rebuild(s.ctx, room))
	s.Equal(transportsAfterFirst, len(router.Transports))
	s.Equal(1, s.transcoder.startCount())
}

func (s *OrchestratorTestSuite) TestProducerChangeReplacesPipeline() {
	room, router := s.publishingRoom(1)

	s.Require().NoError(s.orch.rebuild(s.ctx, room))
	first := room.Live()
	firstHandle := s.transcoder.lastStart().handle
	firstFP := room.Fingerprint()

	room.SetProducer("sess-1", engine.MediaKindVideo, "prod-video-new")
	s.Require().NoError(s.orch.rebuild(s.ctx, room))

	s.NotEqual(firstFP, room.Fingerprint())
	s.True(firstHandle.Stopped())
	for _, leg := range first.Legs {
		s.Contains(router.ClosedTransports, leg.AudioTransportID)
		s.Contains(router.ClosedTransports, leg.VideoTransportID)
	}

	live := room.Live()
	s.Require().NotNil(live)
	s.Greater(live.Generation, first.Generation)
}

func (s *OrchestratorTestSuite) TestEmptyCandidateTeardown() {
	room, router := s.publishingRoom(1)

	s.Require().NoError(s.orch.rebuild(s.ctx, room))
	handle := s.transcoder.lastStart().handle

	sess, _ := room.RemoveSession("sess-1")
	s.Require().NotNil(sess)

	s.Require().NoError(s.orch.rebuild(s.ctx, room))

	s.True(handle.Stopped())
	s.Nil(room.Live())
	s.Empty(room.Fingerprint())
	s.NotEmpty(router.ClosedTransports)
}

func (s *OrchestratorTestSuite) TestFailureKeepsFingerprint() {
	room, router := s.publishingRoom(1)

	s.Require().NoError(s.orch.rebuild(s.ctx, room))
	fp := room.Fingerprint()

	room.SetProducer("sess-1", engine.MediaKindVideo, "prod-video-new")
	s.transcoder.startErr = errors.PureNew("spawn failed")

	s.Error(s.orch.rebuild(s.ctx, room))

	// prior fingerprint stays authoritative so the next trigger retries
	s.Equal(fp, room.Fingerprint())
	s.Nil(room.Live())

	// transports built for the failed generation are released
	closed := len(router.ClosedTransports)
	s.GreaterOrEqual(closed, 2)

	s.transcoder.startErr = nil
	s.Require().NoError(s.orch.rebuild(s.ctx, room))
	s.NotEqual(fp, room.Fingerprint())
	s.NotNil(room.Live())
}

func (s *OrchestratorTestSuite) TestConsumeFailureStopsNewProcess() {
	room, router := s.publishingRoom(1)
	router.ConsumeErr = errors.PureNew("incompatible")

	s.Error(s.orch.rebuild(s.ctx, room))

	s.True(s.transcoder.lastStart().handle.Stopped())
	s.Nil(room.Live())
	s.Empty(room.Fingerprint())
}

func (s *OrchestratorTestSuite) TestTriggerBurstCoalesces() {
	room, _ := s.publishingRoom(1)

	block := make(chan struct{})
	s.transcoder.blockStart = block

	s.orch.OnProducersChanged(room)

	// first rebuild is now inside Start
	select {
	case <-s.transcoder.started:
	case <-time.After(time.Second):
		s.FailNow("first rebuild never started")
	}

	// a burst of triggers while rebuilding collapses into one pending rebuild
	room.SetProducer("sess-1", engine.MediaKindVideo, "prod-video-2")
	s.orch.OnProducersChanged(room)
	room.SetProducer("sess-1", engine.MediaKindVideo, "prod-video-3")
	s.orch.OnProducersChanged(room)
	room.SetProducer("sess-1", engine.MediaKindVideo, "prod-video-4")
	s.orch.OnProducersChanged(room)

	s.transcoder.mu.Lock()
	s.transcoder.blockStart = nil
	s.transcoder.mu.Unlock()
	close(block)

	// exactly one more rebuild runs, against the final producer set
	select {
	case <-s.transcoder.started:
	case <-time.After(time.Second):
		s.FailNow("pending rebuild never started")
	}

	s.Require().Eventually(func() bool {
		return !room.Rebuilding()
	}, time.Second, 5*time.Millisecond)

	s.Equal(2, s.transcoder.startCount())

	live := room.Live()
	s.Require().NotNil(live)
	s.Contains(room.Fingerprint(), "prod-video-4")
}

func (s *OrchestratorTestSuite) TestOnRoomClosed() {
	room, _ := s.publishingRoom(1)

	s.Require().NoError(s.orch.rebuild(s.ctx, room))
	handle := s.transcoder.lastStart().handle

	room.MarkClosed()
	s.orch.OnRoomClosed(room)

	s.True(handle.Stopped())
	s.Nil(room.Live())
	s.Empty(room.Fingerprint())
}

func (s *OrchestratorTestSuite) TestCommitRefusedWhenRoomClosesMidRebuild() {
	room, _ := s.publishingRoom(1)

	block := make(chan struct{})
	s.transcoder.mu.Lock()
	s.transcoder.blockStart = block
	s.transcoder.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.orch.rebuild(s.ctx, room) }()

	select {
	case <-s.transcoder.started:
	case <-time.After(time.Second):
		s.FailNow("rebuild never reached the transcoder")
	}

	// the room is destroyed while the rebuild awaits an external call
	room.MarkClosed()

	s.transcoder.mu.Lock()
	s.transcoder.blockStart = nil
	s.transcoder.mu.Unlock()
	close(block)

	s.Require().NoError(<-done)

	s.True(s.transcoder.lastStart().handle.Stopped())
	s.Nil(room.Live())
	s.Empty(room.Fingerprint())
}

func (s *OrchestratorTestSuite) TestRebuildSkipsClosedRoom() {
	room, _ := s.publishingRoom(1)
	room.MarkClosed()

	s.Require().NoError(s.orch.rebuild(s.ctx, room))

	s.Equal(0, s.transcoder.startCount())
	s.Nil(room.Live())
}

func (s *OrchestratorTestSuite) TestFingerprintEncoding() {
	a := []rooms.Candidate{
		{SessionID: "s1", AudioProducerID: "a1", VideoProducerID: "v1"},
		{SessionID: "s2", AudioProducerID: "a2", VideoProducerID: "v2"},
	}
	b := []rooms.Candidate{
		{SessionID: "s2", AudioProducerID: "a2", VideoProducerID: "v2"},
		{SessionID: "s1", AudioProducerID: "a1", VideoProducerID: "v1"},
	}

	s.Equal(computeFingerprint(a), computeFingerprint(b))
	s.Equal("a1:v1;a2:v2", computeFingerprint(a))
	s.Empty(computeFingerprint(nil))
}
