package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/imtaco/video-rtc-exp/internal/errors"
	"github.com/imtaco/video-rtc-exp/internal/jsonrpc"
	wsrpc "github.com/imtaco/video-rtc-exp/internal/jsonrpc/websocket"
	"github.com/imtaco/video-rtc-exp/internal/jwt"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/rooms"
)

const (
	// per-connection signaling rate limit
	requestRate  = rate.Limit(20)
	requestBurst = 40

	teardownTimeout = 5 * time.Second
)

func NewWSHook(
	svc rooms.Service,
	connMgr *WSConnManager,
	jwtAuth jwt.Auth,
	logger *log.Logger,
) wsrpc.ConnectionHooks[sessContext] {
	return &wsHookImpl{
		svc:     svc,
		connMgr: connMgr,
		jwtAuth: jwtAuth,
		logger:  logger,
	}
}

type wsHookImpl struct {
	svc     rooms.Service
	connMgr *WSConnManager
	jwtAuth jwt.Auth
	logger  *log.Logger
}

func (h *wsHookImpl) OnVerify(r *http.Request) (*sessContext, bool, error) {
	// Extract JWT from query parameter or header
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	if token == "" {
		return nil, false, nil
	}

	payload, err := h.jwtAuth.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrInvalidToken) || errors.Is(err, jwt.ErrNoToken) {
			return nil, false, nil
		}
		return nil, false, err
	}
	sessCtx := &sessContext{
		userID:   payload.UserID,
		roomID:   payload.RoomID,
		reqCtx:   context.Background(),
		rlimiter: rate.NewLimiter(requestRate, requestBurst),
	}

	return sessCtx, true, nil
}

func (h *wsHookImpl) OnConnect(mctx jsonrpc.MethodContext[sessContext]) {
	sessCtx := mctx.Get()
	connID := uuid.New().String()
	sessCtx.connID = connID

	h.connMgr.AddClient(connID, sessCtx.roomID, mctx.Peer())
	connections.Add(sessCtx.reqCtx, 1)
	h.logger.Info("Client connected",
		log.String("connId", sessCtx.connID),
		log.String("userId", sessCtx.userID),
		log.String("roomId", sessCtx.roomID),
	)
}

func (h *wsHookImpl) OnDisconnect(mctx jsonrpc.MethodContext[sessContext], errCode int) {
	sessCtx := mctx.Get()
	connID := sessCtx.connID
	h.connMgr.RemoveClient(connID)
	connections.Add(context.Background(), -1)

	h.logger.Info("Client disconnected",
		log.String("connId", connID),
		log.Int("errorCode", errCode),
	)

	if !sessCtx.joined {
		return
	}

	// the session's transports and producers go down with the connection
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := h.svc.RemoveSession(ctx, sessCtx.roomID, connID); err != nil {
		if !errors.Is(err, rooms.ErrRoomNotFound) && !errors.Is(err, rooms.ErrSessionNotFound) {
			h.logger.Error("Session teardown failed",
				log.String("connId", connID),
				log.String("roomId", sessCtx.roomID),
				log.Error(err))
		}
		return
	}

	if _, ok := h.svc.Room(sessCtx.roomID); ok {
		h.connMgr.NotifyRoom(sessCtx.roomID, "roomProducersChanged", map[string]any{
			"roomId": sessCtx.roomID,
		})
	} else {
		h.connMgr.RemoveRoom(sessCtx.roomID)
	}
}
