package signal

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/video-rtc-exp/internal/otel"
)

var (
	connections metric.Int64UpDownCounter
	joins       metric.Int64Counter
	rateLimited metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("wsgateway.signal", intotel.PrefixSignal)

	f.Int64UpDownCounter(&connections, "connections.active",
		metric.WithDescription("Currently open signaling connections"))
	f.Int64Counter(&joins, "joins",
		metric.WithDescription("Total successful room joins"))
	f.Int64Counter(&rateLimited, "requests.rate_limited",
		metric.WithDescription("Signaling requests rejected by the rate limiter"))
}
