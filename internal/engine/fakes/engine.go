package fakes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/imtaco/video-rtc-exp/internal/engine"
)

// Router is an in-memory engine.Router for tests. Every mutating call is
// recorded; failures are injected per operation.
type Router struct {
	mu sync.Mutex

	RouterID string

	nextTransport int
	nextProducer  int
	nextConsumer  int

	Transports       []string
	PlainConnects    []PlainConnect
	WebRTCConnects   []string
	Producers        []string
	Consumers        []engine.ConsumerInfo
	ClosedTransports []string
	ClosedProducers  []string
	ClosedConsumers  []string
	KeyframeRequests map[string]int
	Closed           bool

	Capabilities json.RawMessage

	CreatePlainErr  error
	CreateWebRTCErr error
	ConnectErr      error
	ProduceErr      error
	ConsumeErr      error
	KeyframeErr     error
}

type PlainConnect struct {
	TransportID string
	IP          string
	Port        int
	RtcpPort    int
}

func NewRouter(id string) *Router {
	return &Router{
		RouterID:         id,
		Capabilities:     json.RawMessage(`{"codecs":[]}`),
		KeyframeRequests: map[string]int{},
	}
}

func (r *Router) ID() string { return r.RouterID }

func (r *Router) RTPCapabilities(context.Context) (json.RawMessage, error) {
	return r.Capabilities, nil
}

func (r *Router) CreateWebRTCTransport(context.Context) (*engine.WebRTCTransportInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateWebRTCErr != nil {
		return nil, r.CreateWebRTCErr
	}
	r.nextTransport++
	id := fmt.Sprintf("wt-%d", r.nextTransport)
	r.Transports = append(r.Transports, id)
	return &engine.WebRTCTransportInfo{
		ID:             id,
		ICEParameters:  json.RawMessage(`{}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{}`),
	}, nil
}

func (r *Router) CreatePlainTransport(context.Context) (*engine.PlainTransportInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreatePlainErr != nil {
		return nil, r.CreatePlainErr
	}
	r.nextTransport++
	id := fmt.Sprintf("pt-%d", r.nextTransport)
	r.Transports = append(r.Transports, id)
	return &engine.PlainTransportInfo{ID: id}, nil
}

func (r *Router) ConnectWebRTCTransport(_ context.Context, transportID string, _ json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.WebRTCConnects = append(r.WebRTCConnects, transportID)
	return nil
}

func (r *Router) ConnectPlainTransport(_ context.Context, transportID, ip string, port, rtcpPort int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.PlainConnects = append(r.PlainConnects, PlainConnect{
		TransportID: transportID,
		IP:          ip,
		Port:        port,
		RtcpPort:    rtcpPort,
	})
	return nil
}

func (r *Router) CloseTransport(_ context.Context, transportID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ClosedTransports = append(r.ClosedTransports, transportID)
	return nil
}

func (r *Router) Produce(_ context.Context, _ string, kind engine.MediaKind, _ json.RawMessage) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ProduceErr != nil {
		return "", r.ProduceErr
	}
	r.nextProducer++
	id := fmt.Sprintf("prod-%s-%d", kind, r.nextProducer)
	r.Producers = append(r.Producers, id)
	return id, nil
}

func (r *Router) CloseProducer(_ context.Context, producerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ClosedProducers = append(r.ClosedProducers, producerID)
	return nil
}

func (r *Router) Consume(_ context.Context, _, producerID string, _ json.RawMessage) (*engine.ConsumerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ConsumeErr != nil {
		return nil, r.ConsumeErr
	}
	r.nextConsumer++
	info := engine.ConsumerInfo{
		ID:            fmt.Sprintf("cons-%d", r.nextConsumer),
		ProducerID:    producerID,
		Kind:          engine.MediaKindVideo,
		RTPParameters: json.RawMessage(`{}`),
	}
	r.Consumers = append(r.Consumers, info)
	return &info, nil
}

func (r *Router) CloseConsumer(_ context.Context, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ClosedConsumers = append(r.ClosedConsumers, consumerID)
	return nil
}

func (r *Router) RequestKeyFrame(_ context.Context, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.KeyframeRequests[consumerID]++
	if r.KeyframeErr != nil {
		return r.KeyframeErr
	}
	return nil
}

func (r *Router) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

// TransportCount returns the number of transports ever created.
func (r *Router) TransportCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Transports)
}

// Worker is an in-memory engine.Worker handing out fake routers.
type Worker struct {
	mu         sync.Mutex
	WorkerURL  string
	PingErr    error
	nextRouter int
	Routers    []*Router
}

func NewWorker(url string) *Worker {
	return &Worker{WorkerURL: url}
}

func (w *Worker) URL() string { return w.WorkerURL }

func (w *Worker) Ping(context.Context) error { return w.PingErr }

func (w *Worker) CreateRouter(context.Context) (engine.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextRouter++
	r := NewRouter(fmt.Sprintf("%s/router-%d", w.WorkerURL, w.nextRouter))
	w.Routers = append(w.Routers, r)
	return r, nil
}
