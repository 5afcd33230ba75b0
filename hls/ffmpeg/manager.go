package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/imtaco/video-rtc-exp/hls"
	"github.com/imtaco/video-rtc-exp/internal/log"
	syncmap "github.com/imtaco/video-rtc-exp/internal/sync"
	"github.com/imtaco/video-rtc-exp/rooms"
)

// transcoderImpl manages FFmpeg mixing processes across rooms. At most one
// process per room runs at a time; a new generation replaces the old handle.
type transcoderImpl struct {
	hlsRoot          string
	sdpGen           *SDPGenerator
	retryDelay       time.Duration
	forceKillTimeout time.Duration
	processes        *syncmap.Map[string, *handleImpl]
	logger           *log.Logger
	tracer           trace.Tracer

	// Function for spawning FFmpeg processes (can be replaced for testing)
	SpawnFFmpeg func(sdpPath, outputDir string, legCount, startNumber int) *exec.Cmd
}

func NewTranscoder(
	hlsRoot string,
	sdpGen *SDPGenerator,
	retryDelay, forceKillTimeout time.Duration,
	logger *log.Logger,
) hls.Transcoder {
	return &transcoderImpl{
		hlsRoot:          filepath.Clean(hlsRoot),
		sdpGen:           sdpGen,
		retryDelay:       retryDelay,
		forceKillTimeout: forceKillTimeout,
		processes:        syncmap.NewMap[string, *handleImpl](),
		logger:           logger,
		tracer:           otel.Tracer("hls.ffmpeg"),
	}
}

// handleImpl wraps a ProcessInfo so Stop also clears the room's slot.
type handleImpl struct {
	roomID     string
	generation uint64
	proc       *ProcessInfo
	owner      *transcoderImpl
}

func (h *handleImpl) Stop() {
	h.proc.Stop()
	h.owner.processes.CompareAndDelete(h.roomID, h)
	h.owner.sdpGenDelete(h.roomID, h.generation)
	activeProcesses.Add(context.Background(), -1)
}

func (t *transcoderImpl) sdpGenDelete(roomID string, generation uint64) {
	if err := t.sdpGen.Delete(roomID, generation); err != nil {
		t.logger.Warn("Failed to delete SDP file",
			log.String("roomId", roomID),
			log.Error(err))
	}
}

// Start spawns the mixing process for one pipeline generation. Output lands
// in <hlsRoot>/<roomID>/gen-<generation>/.
func (t *transcoderImpl) Start(
	ctx context.Context,
	roomID string,
	generation uint64,
	legs []hls.SDPLeg,
) (rooms.TranscodeHandle, string, error) {
	ctx, span := t.tracer.Start(ctx, "ffmpeg.Start",
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.Int("legs", len(legs)),
		))
	defer span.End()

	if len(legs) == 0 {
		err := fmt.Errorf("no legs for room %s", roomID)
		span.RecordError(err)
		return nil, "", err
	}

	sdpPath, err := t.sdpGen.Generate(roomID, generation, legs)
	if err != nil {
		span.RecordError(err)
		processesFailed.Add(ctx, 1)
		return nil, "", fmt.Errorf("failed to generate SDP: %w", err)
	}

	outputDir := filepath.Join(t.hlsRoot, roomID, fmt.Sprintf("gen-%d", generation))
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		span.RecordError(err)
		processesFailed.Add(ctx, 1)
		return nil, "", fmt.Errorf("failed to create HLS directory: %w", err)
	}

	t.logger.Info("Starting FFmpeg mix",
		log.String("roomId", roomID),
		log.Int64("generation", int64(generation)),
		log.Int("legs", len(legs)),
		log.String("outputDir", outputDir))

	proc := NewProcessInfo(
		roomID,
		generation,
		len(legs),
		sdpPath,
		outputDir,
		t.retryDelay,
		t.forceKillTimeout,
		t.logger,
	)
	if t.SpawnFFmpeg != nil {
		proc.SpawnFFmpeg = t.SpawnFFmpeg
	}
	handle := &handleImpl{
		roomID:     roomID,
		generation: generation,
		proc:       proc,
		owner:      t,
	}
	t.processes.Store(roomID, handle)

	proc.Start()

	processesStarted.Add(ctx, 1)
	activeProcesses.Add(ctx, 1)
	return handle, outputDir, nil
}

// RemoveOutput deletes all HLS output for a room. Called by the cleanup
// janitor once the post-destroy grace period expires.
func (t *transcoderImpl) RemoveOutput(roomID string) error {
	dir := filepath.Join(t.hlsRoot, roomID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove HLS output: %w", err)
	}
	t.logger.Info("HLS output removed", log.String("roomId", roomID))
	return nil
}
