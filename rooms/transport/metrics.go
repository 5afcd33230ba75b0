package transport

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/video-rtc-exp/internal/otel"
)

var (
	tokensIssued metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("rooms.transport", intotel.PrefixRooms)

	f.Int64Counter(&tokensIssued, "tokens.issued",
		metric.WithDescription("Total signaling tokens issued"))
}
