package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/imtaco/video-rtc-exp/hls"
	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/internal/release"
	"github.com/imtaco/video-rtc-exp/internal/scheduler"
	"github.com/imtaco/video-rtc-exp/rooms"
)

const (
	// ErrRebuildFailed is internal: logged, never surfaced to sessions.
	ErrRebuildFailed errors.Code = "rebuild failed"

	egressHost = "127.0.0.1"

	defaultCleanupGrace = 5 * time.Minute
)

// recorderRTPCapabilities is the fixed capability set of the transcoding
// process: it only ever reads opus audio and VP8 video.
var recorderRTPCapabilities = json.RawMessage(`{
	"codecs": [
		{
			"kind": "audio",
			"mimeType": "audio/opus",
			"clockRate": 48000,
			"channels": 2,
			"preferredPayloadType": 111
		},
		{
			"kind": "video",
			"mimeType": "video/VP8",
			"clockRate": 90000,
			"preferredPayloadType": 96
		}
	]
}`)

// Orchestrator rebuilds a room's HLS pipeline whenever its publishing set
// changes. Rebuilds are serialized per room: a trigger during a running
// rebuild marks it pending, and exactly one more rebuild runs afterwards
// against the then-current producer set.
type Orchestrator struct {
	transcoder   hls.Transcoder
	audioPorts   hls.PortAllocator
	videoPorts   hls.PortAllocator
	keyframe     *keyframeCoordinator
	janitor      *scheduler.KeyedScheduler
	cleanupGrace time.Duration
	logger       *log.Logger
}

type Config struct {
	KeyframeAttempts int
	KeyframeInterval time.Duration
	CleanupGrace     time.Duration
}

func New(
	transcoder hls.Transcoder,
	audioPorts, videoPorts hls.PortAllocator,
	cfg Config,
	clock clockwork.Clock,
	logger *log.Logger,
) *Orchestrator {
	if cfg.CleanupGrace == 0 {
		cfg.CleanupGrace = defaultCleanupGrace
	}

	o := &Orchestrator{
		transcoder:   transcoder,
		audioPorts:   audioPorts,
		videoPorts:   videoPorts,
		keyframe:     newKeyframeCoordinator(cfg.KeyframeAttempts, cfg.KeyframeInterval, clock, logger),
		janitor:      scheduler.NewKeyedScheduler(logger),
		cleanupGrace: cfg.CleanupGrace,
		logger:       logger,
	}
	go o.janitorLoop()
	return o
}

func (o *Orchestrator) Shutdown() {
	o.janitor.Shutdown()
}

// OnProducersChanged schedules a rebuild. If one is already running for the
// room, the trigger collapses into a single pending bit.
func (o *Orchestrator) OnProducersChanged(room *rooms.Room) {
	o.janitor.Cancel(room.ID())

	if !room.BeginRebuild() {
		triggersCoalesced.Add(context.Background(), 1)
		return
	}
	go o.runLoop(room)
}

// OnRoomClosed tears the pipeline down synchronously and schedules output
// removal after the grace period.
func (o *Orchestrator) OnRoomClosed(room *rooms.Room) {
	o.teardown(room, true)
	o.janitor.Enqueue(room.ID(), o.cleanupGrace)
}

// runLoop executes rebuilds until no pending trigger remains. Exactly one
// loop runs per room at any time.
func (o *Orchestrator) runLoop(room *rooms.Room) {
	ctx := context.Background()
	for {
		if err := o.rebuild(ctx, room); err != nil {
			rebuildsFailed.Add(ctx, 1)
			o.logger.Error("HLS rebuild failed",
				log.String("roomId", room.ID()),
				log.Error(errors.Wrap(ErrRebuildFailed, err, "rebuild")))
		}
		if !room.FinishRebuild() {
			return
		}
	}
}

// rebuild runs the ordered pipeline protocol once. On failure everything
// built so far is released and the room keeps its prior fingerprint, so the
// next trigger retries.
func (o *Orchestrator) rebuild(ctx context.Context, room *rooms.Room) error {
	start := time.Now()

	if room.Closed() {
		return nil
	}

	candidates := room.FullAVCandidates()

	if len(candidates) == 0 {
		o.teardown(room, true)
		return nil
	}

	fp := computeFingerprint(candidates)
	if fp == room.Fingerprint() {
		rebuildsSkipped.Add(ctx, 1)
		return nil
	}

	// No two live generations of egress resources may coexist for a room.
	o.teardown(room, false)

	generation := room.NextGeneration()
	router := room.Router()

	legs, sdpLegs, err := o.provisionLegs(ctx, router, candidates)
	if err != nil {
		o.releaseLegs(ctx, room, legs)
		return err
	}

	handle, outputDir, err := o.transcoder.Start(ctx, room.ID(), generation, sdpLegs)
	if err != nil {
		o.releaseLegs(ctx, room, legs)
		return err
	}

	if err := o.connectAndConsume(ctx, room, router, candidates, legs); err != nil {
		handle.Stop()
		o.releaseLegs(ctx, room, legs)
		return err
	}

	// the room may have been destroyed while we were provisioning; the
	// commit itself decides that under the room lock
	if !room.CommitPipeline(fp, &rooms.LivePipeline{
		Generation: generation,
		Legs:       legs,
		OutputDir:  outputDir,
		Process:    handle,
	}) {
		handle.Stop()
		o.releaseLegs(ctx, room, legs)
		return nil
	}

	rebuildsSucceeded.Add(ctx, 1)
	rebuildDuration.Record(ctx, time.Since(start).Seconds())
	o.logger.Info("HLS pipeline rebuilt",
		log.String("roomId", room.ID()),
		log.Int64("generation", int64(generation)),
		log.Int("candidates", len(candidates)))
	return nil
}

// provisionLegs allocates port pairs and creates the unconnected egress
// transport pair for every candidate. Partially provisioned legs are
// returned even on error so the caller can release them.
func (o *Orchestrator) provisionLegs(
	ctx context.Context,
	router engine.Router,
	candidates []rooms.Candidate,
) ([]rooms.EgressLeg, []hls.SDPLeg, error) {
	legs := make([]rooms.EgressLeg, 0, len(candidates))
	sdpLegs := make([]hls.SDPLeg, 0, len(candidates))

	for _, c := range candidates {
		audioPorts, err := o.audioPorts.Allocate()
		if err != nil {
			return legs, nil, err
		}
		videoPorts, err := o.videoPorts.Allocate()
		if err != nil {
			return legs, nil, err
		}

		audioTransport, err := router.CreatePlainTransport(ctx)
		if err != nil {
			return legs, nil, err
		}
		leg := rooms.EgressLeg{
			SessionID:        c.SessionID,
			AudioTransportID: audioTransport.ID,
			AudioPorts:       audioPorts,
			VideoPorts:       videoPorts,
		}
		legs = append(legs, leg)

		videoTransport, err := router.CreatePlainTransport(ctx)
		if err != nil {
			return legs, nil, err
		}
		legs[len(legs)-1].VideoTransportID = videoTransport.ID

		sdpLegs = append(sdpLegs, hls.SDPLeg{
			SessionID:  c.SessionID,
			AudioPorts: audioPorts,
			VideoPorts: videoPorts,
		})
	}

	return legs, sdpLegs, nil
}

// connectAndConsume binds each leg's transports to the process-facing ports,
// then creates the audio and video egress consumers. Video consumers get the
// keyframe retry loop; its failures never abort the rebuild.
func (o *Orchestrator) connectAndConsume(
	ctx context.Context,
	room *rooms.Room,
	router engine.Router,
	candidates []rooms.Candidate,
	legs []rooms.EgressLeg,
) error {
	for i := range legs {
		leg := &legs[i]
		if err := router.ConnectPlainTransport(ctx, leg.AudioTransportID, egressHost, leg.AudioPorts.RTP, leg.AudioPorts.RTCP); err != nil {
			return err
		}
		if err := router.ConnectPlainTransport(ctx, leg.VideoTransportID, egressHost, leg.VideoPorts.RTP, leg.VideoPorts.RTCP); err != nil {
			return err
		}
	}

	for i := range legs {
		leg := &legs[i]
		c := candidates[i]

		audioConsumer, err := router.Consume(ctx, leg.AudioTransportID, c.AudioProducerID, recorderRTPCapabilities)
		if err != nil {
			return err
		}
		leg.AudioConsumerID = audioConsumer.ID

		videoConsumer, err := router.Consume(ctx, leg.VideoTransportID, c.VideoProducerID, recorderRTPCapabilities)
		if err != nil {
			return err
		}
		leg.VideoConsumerID = videoConsumer.ID

		o.keyframe.retry(ctx, router, room.ID(), videoConsumer.ID)
	}

	return nil
}

// teardown stops the live pipeline: process first, then egress transports.
// Killing the process first releases the ports the transports feed into.
// The fingerprint is cleared only on an empty-candidate or room teardown;
// a pre-rebuild teardown keeps it so the no-op check stays meaningful.
func (o *Orchestrator) teardown(room *rooms.Room, clearFingerprint bool) {
	live := room.TakeLive()
	if live != nil {
		live.Process.Stop()
		o.releaseLegs(context.Background(), room, live.Legs)
		pipelinesTornDown.Add(context.Background(), 1)
	}
	if clearFingerprint {
		room.ClearFingerprint()
	}
}

func (o *Orchestrator) releaseLegs(ctx context.Context, room *rooms.Room, legs []rooms.EgressLeg) {
	router := room.Router()
	for _, leg := range legs {
		for _, transportID := range []string{leg.AudioTransportID, leg.VideoTransportID} {
			if transportID == "" {
				continue
			}
			tid := transportID
			release.BestEffort(o.logger, "close egress transport", func() error {
				return router.CloseTransport(ctx, tid)
			}, log.String("roomId", room.ID()), log.String("transportId", tid))
		}
	}
}

func (o *Orchestrator) janitorLoop() {
	for roomID := range o.janitor.Chan() {
		id := roomID
		release.BestEffort(o.logger, "remove hls output", func() error {
			return o.transcoder.RemoveOutput(id)
		}, log.String("roomId", id))
	}
}
