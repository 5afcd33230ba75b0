package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"

	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/internal/release"
	syncmap "github.com/imtaco/video-rtc-exp/internal/sync"
	"github.com/imtaco/video-rtc-exp/rooms"
)

// registryImpl owns all Room aggregates and the per-session
// transport/producer/consumer bookkeeping inside them.
type registryImpl struct {
	pool     *engine.Pool
	rooms    *syncmap.Map[string, *rooms.Room]
	notifier rooms.PipelineNotifier
	logger   *log.Logger
}

func NewRegistry(
	pool *engine.Pool,
	notifier rooms.PipelineNotifier,
	logger *log.Logger,
) rooms.Service {
	return &registryImpl{
		pool:     pool,
		rooms:    syncmap.NewMap[string, *rooms.Room](),
		notifier: notifier,
		logger:   logger,
	}
}

// CreateRoom allocates a room id and assigns a routing context from the
// worker pool, round-robin. The routing context is immutable for the room's
// lifetime and released only at destruction.
func (s *registryImpl) CreateRoom(ctx context.Context) (*rooms.Room, error) {
	roomID, err := generateRoomID()
	if err != nil {
		return nil, err
	}

	worker := s.pool.Next()
	router, err := worker.CreateRouter(ctx)
	if err != nil {
		return nil, errors.Wrap(engine.ErrRequestFailed, err, "create router")
	}

	room := rooms.NewRoom(roomID, router)
	s.rooms.Store(roomID, room)

	roomsCreated.Add(ctx, 1)
	activeRooms.Add(ctx, 1)
	s.logger.Info("room created",
		log.String("roomId", roomID),
		log.String("worker", worker.URL()),
		log.String("routerId", router.ID()))
	return room, nil
}

func (s *registryImpl) JoinRoom(ctx context.Context, roomID, sessionID, userID string) (*rooms.Room, error) {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, errors.Newf(rooms.ErrRoomNotFound, "join: room %s", roomID)
	}
	room.AddSession(sessionID, userID)

	sessionsJoined.Add(ctx, 1)
	activeSessions.Add(ctx, 1)
	s.logger.Info("session joined",
		log.String("roomId", roomID),
		log.String("sessionId", sessionID),
		log.String("userId", userID))
	return room, nil
}

func (s *registryImpl) Room(roomID string) (*rooms.Room, bool) {
	return s.rooms.Load(roomID)
}

func (s *registryImpl) RouterRTPCapabilities(ctx context.Context, roomID string) (json.RawMessage, error) {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, errors.Newf(rooms.ErrRoomNotFound, "capabilities: room %s", roomID)
	}
	return room.Router().RTPCapabilities(ctx)
}

// CreateTransport is idempotent per (session, kind): a second call returns
// the transport created by the first.
func (s *registryImpl) CreateTransport(
	ctx context.Context,
	roomID, sessionID string,
	kind engine.TransportKind,
) (*engine.WebRTCTransportInfo, error) {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, errors.Newf(rooms.ErrRoomNotFound, "create transport: room %s", roomID)
	}
	if _, ok := room.Session(sessionID); !ok {
		return nil, errors.Newf(rooms.ErrSessionNotFound, "create transport: session %s", sessionID)
	}

	if existing, ok := room.Transport(sessionID, kind); ok {
		return existing, nil
	}

	info, err := room.Router().CreateWebRTCTransport(ctx)
	if err != nil {
		return nil, errors.Wrapf(rooms.ErrConnectFailed, err, "create %s transport", kind)
	}
	room.SetTransport(sessionID, kind, info)

	s.logger.Info("transport created",
		log.String("roomId", roomID),
		log.String("sessionId", sessionID),
		log.String("kind", string(kind)),
		log.String("transportId", info.ID))
	return info, nil
}

func (s *registryImpl) ConnectTransport(
	ctx context.Context,
	roomID, sessionID string,
	kind engine.TransportKind,
	dtlsParameters json.RawMessage,
) error {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return errors.Newf(rooms.ErrRoomNotFound, "connect transport: room %s", roomID)
	}
	transport, ok := room.Transport(sessionID, kind)
	if !ok {
		return errors.Newf(rooms.ErrTransportNotFound, "connect: no %s transport for session %s", kind, sessionID)
	}

	if err := room.Router().ConnectWebRTCTransport(ctx, transport.ID, dtlsParameters); err != nil {
		return errors.Wrapf(rooms.ErrConnectFailed, err, "connect %s transport", kind)
	}
	return nil
}

// Produce registers a new producer. A pre-existing producer of the same kind
// for that session is closed first, keeping the one-per-kind invariant. The
// pipeline trigger fires on every successful produce.
func (s *registryImpl) Produce(
	ctx context.Context,
	roomID, sessionID string,
	kind engine.MediaKind,
	rtpParameters json.RawMessage,
) (string, error) {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return "", errors.Newf(rooms.ErrRoomNotFound, "produce: room %s", roomID)
	}
	transport, ok := room.Transport(sessionID, engine.TransportKindProducer)
	if !ok {
		return "", errors.Newf(rooms.ErrTransportNotFound, "produce: no producer transport for session %s", sessionID)
	}

	producerID, err := room.Router().Produce(ctx, transport.ID, kind, rtpParameters)
	if err != nil {
		return "", errors.Wrapf(rooms.ErrProducerCreateFailed, err, "produce %s", kind)
	}

	if old := room.SetProducer(sessionID, kind, producerID); old != "" {
		s.logger.Info("producer superseded",
			log.String("roomId", roomID),
			log.String("sessionId", sessionID),
			log.String("producerId", old))
		s.closeProducer(ctx, room, old)
	}

	producersCreated.Add(ctx, 1)
	s.logger.Info("producer created",
		log.String("roomId", roomID),
		log.String("sessionId", sessionID),
		log.String("kind", string(kind)),
		log.String("producerId", producerID))

	s.fireTrigger(ctx, room)
	return producerID, nil
}

func (s *registryImpl) StopProduce(
	ctx context.Context,
	roomID, sessionID string,
	kind engine.MediaKind,
) error {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return errors.Newf(rooms.ErrRoomNotFound, "stop produce: room %s", roomID)
	}
	producerID, ok := room.RemoveProducer(sessionID, kind)
	if !ok {
		return errors.Newf(rooms.ErrProducerNotFound, "stop produce: no %s producer for session %s", kind, sessionID)
	}

	s.closeProducer(ctx, room, producerID)
	s.fireTrigger(ctx, room)
	return nil
}

func (s *registryImpl) ListProducers(roomID string) ([]rooms.ProducerSummary, error) {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, errors.Newf(rooms.ErrRoomNotFound, "list producers: room %s", roomID)
	}
	return room.Producers(), nil
}

// Consume subscribes the session's consumer transport to a producer resolved
// by id across all room participants.
func (s *registryImpl) Consume(
	ctx context.Context,
	roomID, sessionID, producerID string,
	rtpCapabilities json.RawMessage,
) (*engine.ConsumerInfo, error) {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, errors.Newf(rooms.ErrRoomNotFound, "consume: room %s", roomID)
	}
	if _, ok := room.ProducerByID(producerID); !ok {
		return nil, errors.Newf(rooms.ErrProducerNotFound, "consume: producer %s", producerID)
	}
	transport, ok := room.Transport(sessionID, engine.TransportKindConsumer)
	if !ok {
		return nil, errors.Newf(rooms.ErrTransportNotFound, "consume: no consumer transport for session %s", sessionID)
	}

	info, err := room.Router().Consume(ctx, transport.ID, producerID, rtpCapabilities)
	if err != nil {
		if errors.Is(err, engine.ErrIncompatibleCapability) {
			return nil, errors.Wrap(rooms.ErrIncompatibleCapabilities, err, "consume")
		}
		return nil, errors.Wrap(rooms.ErrConnectFailed, err, "consume")
	}

	consumersCreated.Add(ctx, 1)
	return info, nil
}

// RemoveSession tears a participant down: all producers and transports are
// closed best-effort, the pipeline trigger fires, and the room is destroyed
// when its participant set becomes empty.
func (s *registryImpl) RemoveSession(ctx context.Context, roomID, sessionID string) error {
	room, ok := s.rooms.Load(roomID)
	if !ok {
		return errors.Newf(rooms.ErrRoomNotFound, "remove session: room %s", roomID)
	}

	sess, empty := room.RemoveSession(sessionID)
	if sess == nil {
		return errors.Newf(rooms.ErrSessionNotFound, "remove session: %s", sessionID)
	}

	for _, p := range sess.Producers {
		s.closeProducer(ctx, room, p.ID)
	}
	for kind, t := range sess.Transports {
		transportID := t.ID
		release.BestEffort(s.logger, "close transport", func() error {
			return room.Router().CloseTransport(ctx, transportID)
		}, log.String("roomId", roomID), log.String("kind", string(kind)))
	}

	sessionsLeft.Add(ctx, 1)
	activeSessions.Add(ctx, -1)
	s.logger.Info("session removed",
		log.String("roomId", roomID),
		log.String("sessionId", sessionID))

	if empty {
		s.destroyRoom(ctx, room)
		return nil
	}

	s.fireTrigger(ctx, room)
	return nil
}

func (s *registryImpl) ListRooms() []rooms.RoomSummary {
	var out []rooms.RoomSummary
	s.rooms.Range(func(_ string, room *rooms.Room) bool {
		out = append(out, room.Summary())
		return true
	})
	return out
}

func (s *registryImpl) Stats() rooms.Stats {
	var st rooms.Stats
	s.rooms.Range(func(_ string, room *rooms.Room) bool {
		st.Rooms++
		st.Sessions += room.SessionCount()
		if room.Live() != nil {
			st.Pipelines++
		}
		return true
	})
	return st
}

// Shutdown destroys every room: pipelines first, then routing contexts.
func (s *registryImpl) Shutdown(ctx context.Context) {
	var all []*rooms.Room
	s.rooms.Range(func(_ string, room *rooms.Room) bool {
		all = append(all, room)
		return true
	})
	for _, room := range all {
		s.destroyRoom(ctx, room)
	}
}

// destroyRoom cascades: HLS pipeline teardown, then routing context release.
// Never called while the room still has participants.
func (s *registryImpl) destroyRoom(ctx context.Context, room *rooms.Room) {
	room.MarkClosed()
	s.notifier.OnRoomClosed(room)

	release.BestEffort(s.logger, "close router", func() error {
		return room.Router().Close(ctx)
	}, log.String("roomId", room.ID()))

	s.rooms.Delete(room.ID())

	roomsDestroyed.Add(ctx, 1)
	activeRooms.Add(ctx, -1)
	s.logger.Info("room destroyed", log.String("roomId", room.ID()))
}

func (s *registryImpl) closeProducer(ctx context.Context, room *rooms.Room, producerID string) {
	release.BestEffort(s.logger, "close producer", func() error {
		return room.Router().CloseProducer(ctx, producerID)
	}, log.String("roomId", room.ID()), log.String("producerId", producerID))
	producersClosed.Add(ctx, 1)
}

func (s *registryImpl) fireTrigger(ctx context.Context, room *rooms.Room) {
	triggersFired.Add(ctx, 1)
	s.notifier.OnProducersChanged(room)
}

func generateRoomID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
