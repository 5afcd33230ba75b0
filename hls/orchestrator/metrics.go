package orchestrator

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/video-rtc-exp/internal/otel"
)

var (
	// Rebuild protocol metrics
	rebuildsSucceeded metric.Int64Counter
	rebuildsFailed    metric.Int64Counter
	rebuildsSkipped   metric.Int64Counter
	triggersCoalesced metric.Int64Counter
	pipelinesTornDown metric.Int64Counter
	rebuildDuration   metric.Float64Histogram

	// Keyframe retry metrics
	keyframeRequests metric.Int64Counter
	keyframeFailures metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("hls.orchestrator", intotel.PrefixHLSPipe)

	f.Int64Counter(&rebuildsSucceeded, "rebuilds.succeeded",
		metric.WithDescription("Total pipeline rebuilds committed"))

	f.Int64Counter(&rebuildsFailed, "rebuilds.failed",
		metric.WithDescription("Total pipeline rebuilds that failed mid-protocol"))

	f.Int64Counter(&rebuildsSkipped, "rebuilds.skipped",
		metric.WithDescription("Total rebuilds skipped by the fingerprint no-op check"))

	f.Int64Counter(&triggersCoalesced, "triggers.coalesced",
		metric.WithDescription("Total triggers collapsed into a pending rebuild"))

	f.Int64Counter(&pipelinesTornDown, "pipelines.torn_down",
		metric.WithDescription("Total live pipelines torn down"))

	f.Float64Histogram(&rebuildDuration, "rebuild.duration",
		metric.WithDescription("Duration of pipeline rebuilds in seconds"),
		metric.WithUnit("s"))

	f.Int64Counter(&keyframeRequests, "keyframe.requests",
		metric.WithDescription("Total keyframe requests issued to video egress consumers"))

	f.Int64Counter(&keyframeFailures, "keyframe.failures",
		metric.WithDescription("Total keyframe requests that failed"))
}
