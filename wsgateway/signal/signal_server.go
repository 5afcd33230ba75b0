package signal

import (
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/jsonrpc"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/rooms"
)

const capsCacheSize = 128

// Server handles the room signaling protocol over JSON-RPC. Each connection
// is one session; its transports and producers die with it.
type Server struct {
	jsonrpc.Handler[sessContext]
	svc           rooms.Service
	clientManager *WSConnManager
	capsCache     *lru.Cache[string, json.RawMessage]
	logger        *log.Logger
}

func NewServer(
	handler jsonrpc.Handler[sessContext],
	svc rooms.Service,
	clientManager *WSConnManager,
	logger *log.Logger,
) (*Server, error) {
	capsCache, err := lru.New[string, json.RawMessage](capsCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Handler:       handler,
		svc:           svc,
		clientManager: clientManager,
		capsCache:     capsCache,
		logger:        logger,
	}
	s.register()
	return s, nil
}

func (s *Server) register() {
	// handler is single threaded per connection, no need to lock here
	s.Def("createRoom", s.handleCreateRoom)
	s.Def("joinRoom", s.handleJoinRoom)
	s.Def("getRouterRtpCapabilities", s.handleGetRouterRtpCapabilities)
	s.Def("createProducerTransport", s.handleCreateProducerTransport)
	s.Def("createConsumerTransport", s.handleCreateConsumerTransport)
	s.Def("connectProducerTransport", s.handleConnectProducerTransport)
	s.Def("connectConsumerTransport", s.handleConnectConsumerTransport)
	s.Def("produce", s.handleProduce)
	s.Def("stopProducing", s.handleStopProducing)
	s.Def("listProducers", s.handleListProducers)
	s.Def("consume", s.handleConsume)
}

// gate applies the per-connection rate limit before any handler runs.
func (s *Server) gate(sessCtx *sessContext) error {
	if sessCtx.rlimiter != nil && !sessCtx.rlimiter.Allow() {
		rateLimited.Add(sessCtx.reqCtx, 1)
		return jsonrpc.ErrInvalidRequest("rate limit exceeded")
	}
	return nil
}

// rpcError maps service errors onto the wire error taxonomy. Internal
// failures are not leaked to sessions.
func (s *Server) rpcError(err error) error {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, rooms.ErrSessionNotFound),
		errors.Is(err, rooms.ErrTransportNotFound),
		errors.Is(err, rooms.ErrProducerNotFound),
		errors.Is(err, rooms.ErrIncompatibleCapabilities):
		return jsonrpc.ErrInvalidRequest(err.Error())
	default:
		s.logger.Error("Signal operation failed", log.Error(err))
		return jsonrpc.ErrInternal("operation failed")
	}
}

func (s *Server) handleCreateRoom(mctx jsonrpc.MethodContext[sessContext], _ *json.RawMessage) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}

	room, err := s.svc.CreateRoom(sessCtx.reqCtx)
	if err != nil {
		return nil, s.rpcError(err)
	}

	return map[string]any{"roomId": room.ID()}, nil
}

func (s *Server) handleJoinRoom(mctx jsonrpc.MethodContext[sessContext], _ *json.RawMessage) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("already joined")
	}

	room, err := s.svc.JoinRoom(sessCtx.reqCtx, sessCtx.roomID, sessCtx.connID, sessCtx.userID)
	if err != nil {
		return nil, s.rpcError(err)
	}
	sessCtx.joined = true

	joins.Add(sessCtx.reqCtx, 1)
	return map[string]any{"roomId": room.ID()}, nil
}

func (s *Server) handleGetRouterRtpCapabilities(mctx jsonrpc.MethodContext[sessContext], _ *json.RawMessage) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if !sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	// capabilities are immutable per room, cache across sessions
	if caps, ok := s.capsCache.Get(sessCtx.roomID); ok {
		return map[string]any{"rtpCapabilities": caps}, nil
	}

	caps, err := s.svc.RouterRTPCapabilities(sessCtx.reqCtx, sessCtx.roomID)
	if err != nil {
		return nil, s.rpcError(err)
	}
	s.capsCache.Add(sessCtx.roomID, caps)

	return map[string]any{"rtpCapabilities": caps}, nil
}

func (s *Server) handleCreateProducerTransport(mctx jsonrpc.MethodContext[sessContext], _ *json.RawMessage) (any, error) {
	return s.createTransport(mctx, engine.TransportKindProducer)
}

func (s *Server) handleCreateConsumerTransport(mctx jsonrpc.MethodContext[sessContext], _ *json.RawMessage) (any, error) {
	return s.createTransport(mctx, engine.TransportKindConsumer)
}

func (s *Server) createTransport(mctx jsonrpc.MethodContext[sessContext], kind engine.TransportKind) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if !sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	info, err := s.svc.CreateTransport(sessCtx.reqCtx, sessCtx.roomID, sessCtx.connID, kind)
	if err != nil {
		return nil, s.rpcError(err)
	}

	return map[string]any{
		"id":             info.ID,
		"iceParameters":  info.ICEParameters,
		"iceCandidates":  info.ICECandidates,
		"dtlsParameters": info.DTLSParameters,
	}, nil
}

func (s *Server) handleConnectProducerTransport(mctx jsonrpc.MethodContext[sessContext], params *json.RawMessage) (any, error) {
	return s.connectTransport(mctx, params, engine.TransportKindProducer)
}

func (s *Server) handleConnectConsumerTransport(mctx jsonrpc.MethodContext[sessContext], params *json.RawMessage) (any, error) {
	return s.connectTransport(mctx, params, engine.TransportKindConsumer)
}

func (s *Server) connectTransport(
	mctx jsonrpc.MethodContext[sessContext],
	params *json.RawMessage,
	kind engine.TransportKind,
) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if !sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		DTLSParameters json.RawMessage `json:"dtlsParameters" validate:"required"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid connect parameters")
	}

	if err := s.svc.ConnectTransport(sessCtx.reqCtx, sessCtx.roomID, sessCtx.connID, kind, data.DTLSParameters); err != nil {
		return nil, s.rpcError(err)
	}

	return map[string]any{"connected": true}, nil
}

func (s *Server) handleProduce(mctx jsonrpc.MethodContext[sessContext], params *json.RawMessage) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if !sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		Kind          engine.MediaKind `json:"kind" validate:"required,oneof=audio video"`
		RTPParameters json.RawMessage  `json:"rtpParameters" validate:"required"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid produce parameters")
	}

	producerID, err := s.svc.Produce(sessCtx.reqCtx, sessCtx.roomID, sessCtx.connID, data.Kind, data.RTPParameters)
	if err != nil {
		return nil, s.rpcError(err)
	}

	s.clientManager.NotifyOthers(sessCtx.roomID, sessCtx.connID, "newProducer", map[string]any{
		"userId":     sessCtx.userID,
		"producerId": producerID,
		"kind":       data.Kind,
	})
	s.broadcastProducersChanged(sessCtx.roomID)

	return map[string]any{"id": producerID}, nil
}

func (s *Server) handleStopProducing(mctx jsonrpc.MethodContext[sessContext], params *json.RawMessage) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if !sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		Kind engine.MediaKind `json:"kind" validate:"required,oneof=audio video"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid stopProducing parameters")
	}

	if err := s.svc.StopProduce(sessCtx.reqCtx, sessCtx.roomID, sessCtx.connID, data.Kind); err != nil {
		return nil, s.rpcError(err)
	}

	s.broadcastProducersChanged(sessCtx.roomID)

	return map[string]any{"stopped": true}, nil
}

func (s *Server) handleListProducers(mctx jsonrpc.MethodContext[sessContext], _ *json.RawMessage) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if !sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	producers, err := s.svc.ListProducers(sessCtx.roomID)
	if err != nil {
		return nil, s.rpcError(err)
	}

	return map[string]any{"producers": producers}, nil
}

func (s *Server) handleConsume(mctx jsonrpc.MethodContext[sessContext], params *json.RawMessage) (any, error) {
	sessCtx := mctx.Get()
	if err := s.gate(sessCtx); err != nil {
		return nil, err
	}
	if !sessCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		ProducerID      string          `json:"producerId" validate:"required"`
		RTPCapabilities json.RawMessage `json:"rtpCapabilities" validate:"required"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid consume parameters")
	}

	info, err := s.svc.Consume(sessCtx.reqCtx, sessCtx.roomID, sessCtx.connID, data.ProducerID, data.RTPCapabilities)
	if err != nil {
		return nil, s.rpcError(err)
	}

	return map[string]any{
		"id":            info.ID,
		"producerId":    info.ProducerID,
		"kind":          info.Kind,
		"rtpParameters": info.RTPParameters,
	}, nil
}

func (s *Server) broadcastProducersChanged(roomID string) {
	s.clientManager.NotifyRoom(roomID, "roomProducersChanged", map[string]any{
		"roomId": roomID,
	})
}
