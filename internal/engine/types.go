package engine

import (
	"context"
	"encoding/json"
)

// MediaKind identifies the media type of a producer or consumer.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// TransportKind distinguishes a session's publish transport from its subscribe transport.
type TransportKind string

const (
	TransportKindProducer TransportKind = "producer"
	TransportKindConsumer TransportKind = "consumer"
)

// WebRTCTransportInfo is the negotiation material returned for a participant-facing transport.
type WebRTCTransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// PlainTransportInfo describes an RTP transport used to feed the transcoding pipeline.
type PlainTransportInfo struct {
	ID string `json:"id"`
}

// ConsumerInfo is the descriptor of a created consumer.
type ConsumerInfo struct {
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	Kind          MediaKind       `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
}

// Router scopes all transports, producers and consumers of one room on an
// engine worker. It is the routing context handle of the room.
type Router interface {
	ID() string
	RTPCapabilities(ctx context.Context) (json.RawMessage, error)

	CreateWebRTCTransport(ctx context.Context) (*WebRTCTransportInfo, error)
	CreatePlainTransport(ctx context.Context) (*PlainTransportInfo, error)
	ConnectWebRTCTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error
	ConnectPlainTransport(ctx context.Context, transportID, ip string, port, rtcpPort int) error
	CloseTransport(ctx context.Context, transportID string) error

	Produce(ctx context.Context, transportID string, kind MediaKind, rtpParameters json.RawMessage) (string, error)
	CloseProducer(ctx context.Context, producerID string) error

	Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumerInfo, error)
	CloseConsumer(ctx context.Context, consumerID string) error
	RequestKeyFrame(ctx context.Context, consumerID string) error

	Close(ctx context.Context) error
}

// Worker is one media-engine daemon instance.
type Worker interface {
	URL() string
	Ping(ctx context.Context) error
	CreateRouter(ctx context.Context) (Router, error)
}
