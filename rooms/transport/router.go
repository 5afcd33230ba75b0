package transport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/imtaco/video-rtc-exp/internal/jwt"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/internal/validation"
	"github.com/imtaco/video-rtc-exp/rooms"
)

// Router exposes the room management REST API: token issuance for the
// signaling gateway, room inspection and service stats.
type Router struct {
	svc    rooms.Service
	auth   jwt.Auth
	engine *gin.Engine
	logger *log.Logger
}

func NewRouter(svc rooms.Service, auth jwt.Auth, logger *log.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("rooms-api"))

	r := &Router{
		svc:    svc,
		auth:   auth,
		engine: engine,
		logger: logger,
	}

	r.engine.Use(func(c *gin.Context) {
		r.logger.Info("Incoming request",
			log.String("method", c.Request.Method),
			log.String("url", c.Request.URL.String()))
		c.Next()
	})

	r.setupRoutes()
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.POST("/api/token", r.issueToken)
	r.engine.GET("/api/rooms", r.listRooms)
	r.engine.GET("/api/rooms/:roomId", r.getRoom)
	r.engine.GET("/api/stats", r.getStats)
	r.engine.GET("/health", r.healthCheck)
}

// issueToken signs a signaling token for a user and a room id. The room does
// not have to exist yet: a fresh client needs a token before it can open the
// WebSocket that carries createRoom, and joinRoom still fails on an unknown
// room. The gateway verifies the token on WebSocket connect.
func (r *Router) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	token, err := r.auth.Sign(req.UserID, req.RoomID)
	if err != nil {
		r.logger.Error("Failed to sign token", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to sign token",
		})
		return
	}

	tokensIssued.Add(c.Request.Context(), 1)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
	})
}

func (r *Router) listRooms(c *gin.Context) {
	list := r.svc.ListRooms()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(list),
		"rooms":   list,
	})
}

func (r *Router) getRoom(c *gin.Context) {
	var req GetRoomRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	room, ok := r.svc.Room(req.RoomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "room not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"room":    room.Summary(),
	})
}

func (r *Router) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   r.svc.Stats(),
	})
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "rooms",
		"timestamp": time.Now().Unix(),
	})
}
