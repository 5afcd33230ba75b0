package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/log"
)

const (
	defaultForceKillTimeout = 5 * time.Second
	defaultRetryDelay       = 2 * time.Second
)

func NewProcessInfo(
	roomID string,
	generation uint64,
	legCount int,
	sdpPath, outputDir string,
	retryDelay, forceKillTimeout time.Duration,
	logger *log.Logger,
) *ProcessInfo {
	if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}
	if forceKillTimeout == 0 {
		forceKillTimeout = defaultForceKillTimeout
	}
	return &ProcessInfo{
		roomID:           roomID,
		generation:       generation,
		legCount:         legCount,
		sdpPath:          sdpPath,
		outputDir:        outputDir,
		retryDelay:       retryDelay,
		forceKillTimeout: forceKillTimeout,
		chanStop:         make(chan struct{}),
		curSeq:           atomic.Pointer[int]{},
		SpawnFFmpeg:      spawnFFmpeg, // Default implementation
		logger:           logger,
	}
}

// ProcessInfo tracks one running FFmpeg mixing process. The process is
// respawned on unexpected exit until Stop is called.
type ProcessInfo struct {
	// Immutable fields (no lock needed)
	roomID           string
	generation       uint64
	legCount         int
	sdpPath          string
	outputDir        string
	retryDelay       time.Duration
	forceKillTimeout time.Duration

	pid      int32
	process  *exec.Cmd
	chanStop chan struct{}

	// Atomic fields for lock-free concurrent access
	curSeq atomic.Pointer[int]

	// Function for spawning FFmpeg process (can be replaced for testing)
	SpawnFFmpeg func(sdpPath, outputDir string, legCount, startNumber int) *exec.Cmd

	logger *log.Logger
}

func (p *ProcessInfo) Start() {
	go p.Run()
}

func (p *ProcessInfo) Run() {
	attempts := 0
	for {
		select {
		case <-p.chanStop:
			p.logger.Info("FFmpeg process stopping",
				log.String("roomId", p.roomID),
				log.Int64("generation", int64(p.generation)))
			return
		default:
		}

		if attempts > 0 {
			time.Sleep(p.retryDelay)
			p.logger.Info("FFmpeg retry attempt",
				log.String("roomId", p.roomID),
				log.Int("attempt", attempts))
			processRespawns.Add(context.Background(), 1)
		}

		p.runOnce()
		attempts++
	}
}

// Stop requests termination. Safe to call more than once.
func (p *ProcessInfo) Stop() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic during FFmpeg stop",
				log.Any("error", r))
		}
	}()

	close(p.chanStop)
}

func (p *ProcessInfo) runOnce() {
	startNumber := 0
	curSeqPtr := p.curSeq.Load()
	if curSeqPtr != nil {
		startNumber = *curSeqPtr + 1
	}

	p.logger.Info("FFmpeg attempt",
		log.String("roomId", p.roomID),
		log.Int64("generation", int64(p.generation)),
		log.Int("startNumber", startNumber))

	cmd := p.SpawnFFmpeg(p.sdpPath, p.outputDir, p.legCount, startNumber)

	stdout, _ := cmd.StdoutPipe()
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start FFmpeg", log.String("roomId", p.roomID), log.Error(err))
		return
	}

	// #nosec G115 -- Process.Pid is guaranteed to fit in int32 on all platforms
	p.pid = int32(cmd.Process.Pid)
	p.process = cmd

	go p.handleStdout(stdout)
	go p.handleStderr(stderr)

	done := p.startWaitForExit()

	select {
	case <-done:
	case <-p.chanStop:
		p.stop()
		// still need to wait for done
		<-done
	}
}

func (p *ProcessInfo) stop() {
	logger := p.logger
	logger.Info("Stopping FFmpeg process",
		log.String("roomId", p.roomID),
		log.Int32("pid", p.pid))

	if p.process == nil || p.process.Process == nil {
		return
	}

	if err := p.process.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("Failed to send SIGTERM to FFmpeg process",
			log.String("roomId", p.roomID),
			log.Int32("pid", p.pid),
			log.Error(err))
	}
	// Force kill after timeout
	go func(cmd *exec.Cmd, pid int32, roomID string) {
		time.Sleep(p.forceKillTimeout)
		if cmd.Process != nil {
			p.logger.Info("Force killing FFmpeg", log.String("roomId", roomID), log.Int32("pid", pid))
			if err := cmd.Process.Kill(); err != nil {
				p.logger.Error("Failed to force kill FFmpeg process",
					log.String("roomId", roomID),
					log.Int32("pid", pid),
					log.Error(err))
			}
		}
	}(p.process, p.pid, p.roomID)
}

// handleStdout reads and logs FFmpeg stdout
func (p *ProcessInfo) handleStdout(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.logger.Debug("FFmpeg stdout", log.String("roomId", p.roomID), log.String("output", line))
	}
}

// handleStderr reads and logs FFmpeg stderr, extracting sequence numbers
func (p *ProcessInfo) handleStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	segmentRegex := regexp.MustCompile(`Opening '.*\/segment_(\d+)\.ts' for writing`)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		matches := segmentRegex.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		sequence, _ := strconv.Atoi(matches[1])
		if sequence <= 0 {
			continue
		}

		completedSeq := sequence - 1
		p.curSeq.Store(&completedSeq)

		p.logger.Debug("HLS segment completed",
			log.String("roomId", p.roomID),
			log.Int("curSeq", completedSeq),
			log.Int("nextSeq", sequence))
	}
}

func (p *ProcessInfo) startWaitForExit() <-chan struct{} {
	done := make(chan struct{})
	cmd := p.process

	go func() {
		err := cmd.Wait()
		close(done)

		var exitCode int
		if err != nil {
			if exitErr, ok := errors.As[*exec.ExitError](err); ok {
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
					exitCode = status.ExitStatus()
				}
			}
		}

		if exitCode == 143 || cmd.ProcessState.String() == "signal: terminated" {
			p.logger.Info("FFmpeg stopped (SIGTERM), not retrying", log.String("roomId", p.roomID))
			return
		}

		p.logger.Info("FFmpeg stopped unexpectedly",
			log.String("roomId", p.roomID),
			log.Int("exitCode", exitCode))
	}()

	return done
}

// spawnFFmpeg spawns the mixing process: all audio legs mixed into one AAC
// track, all video legs composited into a single H.264 grid.
func spawnFFmpeg(sdpPath, outputDir string, legCount, startNumber int) *exec.Cmd {
	args := []string{
		"-protocol_whitelist", "file,udp,rtp",
		"-i", sdpPath,
		"-filter_complex", buildFilter(legCount),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-g", "60",
		"-c:a", "aac",
		"-b:a", "96k",
		"-ar", "48000",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "5",
		"-hls_flags", "delete_segments",
		"-hls_start_number_source", "generic",
		"-start_number", strconv.Itoa(startNumber),
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		filepath.Join(outputDir, "stream.m3u8"),
	}

	cmd := exec.Command("ffmpeg", args...)
	return cmd
}

// buildFilter composes the filter graph for n audio+video leg pairs. The SDP
// orders streams leg by leg, audio first, so leg i maps to streams 0:2i
// (audio) and 0:2i+1 (video).
func buildFilter(n int) string {
	if n <= 1 {
		return "[0:1]scale=1280:720[vout];[0:0]anull[aout]"
	}

	var video, audio string
	for i := 0; i < n; i++ {
		video += fmt.Sprintf("[0:%d]", 2*i+1)
		audio += fmt.Sprintf("[0:%d]", 2*i)
	}
	video += fmt.Sprintf("hstack=inputs=%d,scale=1280:720[vout]", n)
	audio += fmt.Sprintf("amix=inputs=%d[aout]", n)
	return video + ";" + audio
}
