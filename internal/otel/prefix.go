package otel

// Metric prefixes for each component
// Each component should define its own metric names and use these prefixes
const (
	PrefixRooms     = "rooms"
	PrefixHLSPipe   = "hls_pipeline"
	PrefixTranscode = "transcoder"
	PrefixSignal    = "signal"
	PrefixHLSServer = "hls_server"
	PrefixEngine    = "engine"
)
