package transport

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/video-rtc-exp/internal/otel"
)

var (
	playlistsServed   metric.Int64Counter
	segmentsServed    metric.Int64Counter
	roomsNotLive      metric.Int64Counter
	requestsThrottled metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("hlsserver.transport", intotel.PrefixHLSServer)

	f.Int64Counter(&playlistsServed, "playlists.served",
		metric.WithDescription("Total playlist requests served"))
	f.Int64Counter(&segmentsServed, "segments.served",
		metric.WithDescription("Total media segment requests served"))
	f.Int64Counter(&roomsNotLive, "rooms.not_live",
		metric.WithDescription("Requests for rooms without a live pipeline"))
	f.Int64Counter(&requestsThrottled, "requests.throttled",
		metric.WithDescription("Requests rejected by the per-client rate limiter"))
}
