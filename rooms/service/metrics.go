package service

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/video-rtc-exp/internal/otel"
)

var (
	// Room lifecycle metrics
	roomsCreated   metric.Int64Counter
	roomsDestroyed metric.Int64Counter
	activeRooms    metric.Int64UpDownCounter

	// Session lifecycle metrics
	sessionsJoined metric.Int64Counter
	sessionsLeft   metric.Int64Counter
	activeSessions metric.Int64UpDownCounter

	// Media metrics
	producersCreated metric.Int64Counter
	producersClosed  metric.Int64Counter
	consumersCreated metric.Int64Counter
	triggersFired    metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("rooms.service", intotel.PrefixRooms)

	// Room lifecycle
	f.Int64Counter(&roomsCreated, "rooms.created",
		metric.WithDescription("Total rooms created"))

	f.Int64Counter(&roomsDestroyed, "rooms.destroyed",
		metric.WithDescription("Total rooms destroyed"))

	f.Int64UpDownCounter(&activeRooms, "rooms.active",
		metric.WithDescription("Number of live rooms"))

	// Session lifecycle
	f.Int64Counter(&sessionsJoined, "sessions.joined",
		metric.WithDescription("Total session joins"))

	f.Int64Counter(&sessionsLeft, "sessions.left",
		metric.WithDescription("Total session removals"))

	f.Int64UpDownCounter(&activeSessions, "sessions.active",
		metric.WithDescription("Number of joined sessions"))

	// Media
	f.Int64Counter(&producersCreated, "producers.created",
		metric.WithDescription("Total producers created"))

	f.Int64Counter(&producersClosed, "producers.closed",
		metric.WithDescription("Total producers closed"))

	f.Int64Counter(&consumersCreated, "consumers.created",
		metric.WithDescription("Total consumers created"))

	f.Int64Counter(&triggersFired, "pipeline.triggers",
		metric.WithDescription("Total HLS rebuild triggers fired"))
}
