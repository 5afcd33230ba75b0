package ffmpeg

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/video-rtc-exp/internal/otel"
)

var (
	// Package-level metrics
	activeProcesses  metric.Int64UpDownCounter
	processesStarted metric.Int64Counter
	processesFailed  metric.Int64Counter
	processRespawns  metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("hls.ffmpeg", intotel.PrefixTranscode)

	f.Int64UpDownCounter(&activeProcesses, "ffmpeg.processes.active",
		metric.WithDescription("Number of active FFmpeg processes"))

	f.Int64Counter(&processesStarted, "ffmpeg.processes.started",
		metric.WithDescription("Total number of FFmpeg processes started"))

	f.Int64Counter(&processesFailed, "ffmpeg.processes.failed",
		metric.WithDescription("Total number of FFmpeg processes that failed to start"))

	f.Int64Counter(&processRespawns, "ffmpeg.processes.respawns",
		metric.WithDescription("Total number of FFmpeg respawns after unexpected exit"))
}
