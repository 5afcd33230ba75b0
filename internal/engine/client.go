package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/log"
)

const engineAPITimeout = 10 * time.Second

var client = resty.New().
	SetHeader("Content-Type", "application/json").
	SetTimeout(engineAPITimeout)

// workerImpl drives one engine daemon over its HTTP control API.
type workerImpl struct {
	baseURL string
	logger  *log.Logger
}

// NewWorker creates an engine worker client backed by go-resty.
func NewWorker(baseURL string, logger *log.Logger) Worker {
	if logger == nil {
		panic("logger is required")
	}
	return &workerImpl{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (w *workerImpl) URL() string {
	return w.baseURL
}

func (w *workerImpl) Ping(ctx context.Context) error {
	resp, err := client.R().
		SetContext(ctx).
		Get(w.baseURL + "/healthz")
	if err != nil {
		return errors.Wrap(ErrRequestFailed, err, "engine ping")
	}
	if resp.IsError() {
		return errors.Newf(ErrRequestFailed, "engine ping: status %d", resp.StatusCode())
	}
	return nil
}

func (w *workerImpl) CreateRouter(ctx context.Context) (Router, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := w.do(ctx, http.MethodPost, "/routers", nil, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New(ErrInvalidPayload, "create router: missing id")
	}
	return &routerImpl{worker: w, id: out.ID}, nil
}

func (w *workerImpl) do(ctx context.Context, method, path string, body, result any) error {
	w.logger.Debug("engine req",
		log.String("method", method),
		log.String("path", path))

	req := client.R().SetContext(ctx)
	if body != nil {
		req = req.SetBody(body)
	}
	if result != nil {
		req = req.SetResult(result)
	}

	resp, err := req.Execute(method, w.baseURL+path)
	if err != nil {
		return errors.Wrapf(ErrRequestFailed, err, "engine %s %s", method, path)
	}

	if resp.IsError() {
		// the engine reports a subscriber that cannot decode the producer's
		// format with 422
		if resp.StatusCode() == http.StatusUnprocessableEntity {
			return errors.Newf(ErrIncompatibleCapability, "engine %s %s", method, path)
		}
		return errors.Newf(ErrRequestFailed,
			"engine %s %s: status %d", method, path, resp.StatusCode())
	}

	w.logger.Debug("engine resp",
		log.String("path", path),
		log.Int("status", resp.StatusCode()))
	return nil
}

// routerImpl is a routing context created on a specific worker.
type routerImpl struct {
	worker *workerImpl
	id     string
}

func (r *routerImpl) ID() string {
	return r.id
}

func (r *routerImpl) path(suffix string) string {
	return fmt.Sprintf("/routers/%s%s", r.id, suffix)
}

func (r *routerImpl) RTPCapabilities(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	}
	if err := r.worker.do(ctx, http.MethodGet, r.path("/rtpCapabilities"), nil, &out); err != nil {
		return nil, err
	}
	return out.RTPCapabilities, nil
}

func (r *routerImpl) CreateWebRTCTransport(ctx context.Context) (*WebRTCTransportInfo, error) {
	body := map[string]any{"type": "webrtc"}
	var out WebRTCTransportInfo
	if err := r.worker.do(ctx, http.MethodPost, r.path("/transports"), body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New(ErrInvalidPayload, "create webrtc transport: missing id")
	}
	return &out, nil
}

func (r *routerImpl) CreatePlainTransport(ctx context.Context) (*PlainTransportInfo, error) {
	body := map[string]any{"type": "plain", "rtcpMux": false}
	var out PlainTransportInfo
	if err := r.worker.do(ctx, http.MethodPost, r.path("/transports"), body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New(ErrInvalidPayload, "create plain transport: missing id")
	}
	return &out, nil
}

func (r *routerImpl) ConnectWebRTCTransport(
	ctx context.Context,
	transportID string,
	dtlsParameters json.RawMessage,
) error {
	body := map[string]any{"dtlsParameters": dtlsParameters}
	return r.worker.do(ctx, http.MethodPost, r.path("/transports/"+transportID+"/connect"), body, nil)
}

func (r *routerImpl) ConnectPlainTransport(
	ctx context.Context,
	transportID, ip string,
	port, rtcpPort int,
) error {
	body := map[string]any{"ip": ip, "port": port, "rtcpPort": rtcpPort}
	return r.worker.do(ctx, http.MethodPost, r.path("/transports/"+transportID+"/connect"), body, nil)
}

func (r *routerImpl) CloseTransport(ctx context.Context, transportID string) error {
	return r.worker.do(ctx, http.MethodDelete, r.path("/transports/"+transportID), nil, nil)
}

func (r *routerImpl) Produce(
	ctx context.Context,
	transportID string,
	kind MediaKind,
	rtpParameters json.RawMessage,
) (string, error) {
	body := map[string]any{"kind": kind, "rtpParameters": rtpParameters}
	var out struct {
		ID string `json:"id"`
	}
	if err := r.worker.do(ctx, http.MethodPost, r.path("/transports/"+transportID+"/producers"), body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New(ErrInvalidPayload, "produce: missing id")
	}
	return out.ID, nil
}

func (r *routerImpl) CloseProducer(ctx context.Context, producerID string) error {
	return r.worker.do(ctx, http.MethodDelete, r.path("/producers/"+producerID), nil, nil)
}

func (r *routerImpl) Consume(
	ctx context.Context,
	transportID, producerID string,
	rtpCapabilities json.RawMessage,
) (*ConsumerInfo, error) {
	body := map[string]any{
		"producerId":      producerID,
		"rtpCapabilities": rtpCapabilities,
	}
	var out ConsumerInfo
	if err := r.worker.do(ctx, http.MethodPost, r.path("/transports/"+transportID+"/consumers"), body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New(ErrInvalidPayload, "consume: missing id")
	}
	return &out, nil
}

func (r *routerImpl) CloseConsumer(ctx context.Context, consumerID string) error {
	return r.worker.do(ctx, http.MethodDelete, r.path("/consumers/"+consumerID), nil, nil)
}

func (r *routerImpl) RequestKeyFrame(ctx context.Context, consumerID string) error {
	return r.worker.do(ctx, http.MethodPost, r.path("/consumers/"+consumerID+"/requestKeyFrame"), nil, nil)
}

func (r *routerImpl) Close(ctx context.Context) error {
	return r.worker.do(ctx, http.MethodDelete, r.path(""), nil, nil)
}
