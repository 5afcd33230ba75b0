package rooms

import (
	"context"
	"encoding/json"
	"time"

	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/errors"
)

// Error codes surfaced to signaling sessions.
const (
	ErrRoomNotFound             errors.Code = "room not found"
	ErrTransportNotFound        errors.Code = "transport not found"
	ErrProducerNotFound         errors.Code = "producer not found"
	ErrProducerCreateFailed     errors.Code = "producer create failed"
	ErrConnectFailed            errors.Code = "connect failed"
	ErrIncompatibleCapabilities errors.Code = "incompatible capabilities"
	ErrSessionNotFound          errors.Code = "session not found"
)

// Service is the room/session/transport lifecycle surface consumed by the
// signaling adapter and the REST router.
type Service interface {
	CreateRoom(ctx context.Context) (*Room, error)
	JoinRoom(ctx context.Context, roomID, sessionID, userID string) (*Room, error)
	Room(roomID string) (*Room, bool)
	RouterRTPCapabilities(ctx context.Context, roomID string) (json.RawMessage, error)

	CreateTransport(ctx context.Context, roomID, sessionID string, kind engine.TransportKind) (*engine.WebRTCTransportInfo, error)
	ConnectTransport(ctx context.Context, roomID, sessionID string, kind engine.TransportKind, dtlsParameters json.RawMessage) error

	Produce(ctx context.Context, roomID, sessionID string, kind engine.MediaKind, rtpParameters json.RawMessage) (string, error)
	StopProduce(ctx context.Context, roomID, sessionID string, kind engine.MediaKind) error
	ListProducers(roomID string) ([]ProducerSummary, error)
	Consume(ctx context.Context, roomID, sessionID, producerID string, rtpCapabilities json.RawMessage) (*engine.ConsumerInfo, error)

	RemoveSession(ctx context.Context, roomID, sessionID string) error

	ListRooms() []RoomSummary
	Stats() Stats
	Shutdown(ctx context.Context)
}

// PipelineNotifier receives producer-change triggers and room teardown events.
// Implemented by the HLS pipeline orchestrator.
type PipelineNotifier interface {
	// OnProducersChanged fires whenever the room's producer set may have
	// changed: produce, stop, supersede, session teardown.
	OnProducersChanged(room *Room)

	// OnRoomClosed fires before the room's router is released; it must tear
	// down any live pipeline synchronously.
	OnRoomClosed(room *Room)
}

// ProducerSummary is the wire shape of listProducers entries.
type ProducerSummary struct {
	UserID     string           `json:"userId"`
	ProducerID string           `json:"producerId"`
	Kind       engine.MediaKind `json:"kind"`
}

type RoomSummary struct {
	RoomID       string    `json:"roomId"`
	Participants int       `json:"participants"`
	Live         bool      `json:"live"`
	HLSPath      string    `json:"hlsPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Stats struct {
	Rooms     int `json:"rooms"`
	Sessions  int `json:"sessions"`
	Pipelines int `json:"pipelines"`
}

// PortPair is an RTP/RTCP port pair: even RTP base, RTCP at base+1.
type PortPair struct {
	RTP  int
	RTCP int
}

// TranscodeHandle is a running transcoding process. Stop requests
// termination and returns without awaiting exit.
type TranscodeHandle interface {
	Stop()
}

// Candidate is a session currently publishing a full audio+video pair.
type Candidate struct {
	SessionID       string
	AudioProducerID string
	VideoProducerID string
}

// EgressLeg is the per-candidate slice of a live pipeline: the transport pair
// feeding the transcoder and the consumers bound to the candidate's producers.
type EgressLeg struct {
	SessionID        string
	AudioTransportID string
	VideoTransportID string
	AudioPorts       PortPair
	VideoPorts       PortPair
	AudioConsumerID  string
	VideoConsumerID  string
}

// LivePipeline is the committed state of one successful rebuild generation.
type LivePipeline struct {
	Generation uint64
	Legs       []EgressLeg
	OutputDir  string
	Process    TranscodeHandle
}
