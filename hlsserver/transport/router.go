package transport

import (
	"net/http"
	"path/filepath"
	"regexp"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/imtaco/video-rtc-exp/hlsserver"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/internal/validation"
)

const (
	playlistName = "stream.m3u8"

	limiterCacheSize = 4096
	clientRate       = rate.Limit(50)
	clientBurst      = 100
)

var segmentNameRegex = regexp.MustCompile(`^segment_\d{3}\.ts$`)

// Router serves live HLS playlists and segments, read-only.
type Router struct {
	index    hlsserver.RoomIndex
	engine   *gin.Engine
	limiters *lru.Cache[string, *rate.Limiter]
	logger   *log.Logger
}

func NewRouter(index hlsserver.RoomIndex, logger *log.Logger) (*Router, error) {
	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("hls-server"))
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Range"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	r := &Router{
		index:    index,
		engine:   engine,
		limiters: limiters,
		logger:   logger,
	}

	engine.Use(r.rateLimit)
	r.setupRoutes()
	return r, nil
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	// the playlist references segments relative to itself, so both live
	// under the same path
	r.engine.GET("/hls/rooms/:roomId/:file", r.getFile)
	r.engine.GET("/health", r.healthCheck)
}

func (r *Router) getFile(c *gin.Context) {
	if c.Param("file") == playlistName {
		r.getPlaylist(c)
		return
	}
	r.getSegment(c)
}

// rateLimit throttles per client IP. The limiter cache is LRU so idle
// clients age out instead of leaking.
func (r *Router) rateLimit(c *gin.Context) {
	ip := c.ClientIP()
	limiter, ok := r.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(clientRate, clientBurst)
		r.limiters.Add(ip, limiter)
	}
	if !limiter.Allow() {
		requestsThrottled.Add(c.Request.Context(), 1)
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}
	c.Next()
}

func (r *Router) getPlaylist(c *gin.Context) {
	var req GetPlaylistRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	dir, ok := r.index.LiveOutputDir(req.RoomID)
	if !ok {
		r.logger.Warn("Playlist requested for room without live pipeline",
			log.String("roomId", req.RoomID))
		roomsNotLive.Add(c.Request.Context(), 1)
		c.String(http.StatusNotFound, "room not live")
		return
	}

	playlistsServed.Add(c.Request.Context(), 1)
	c.Header("Content-Type", "application/vnd.apple.mpegurl")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.File(filepath.Join(dir, playlistName))
}

func (r *Router) getSegment(c *gin.Context) {
	var req GetSegmentRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	// segment names are generated by the transcoder, anything else is
	// a traversal attempt
	if !segmentNameRegex.MatchString(req.Segment) {
		c.String(http.StatusBadRequest, "invalid segment name")
		return
	}

	dir, ok := r.index.LiveOutputDir(req.RoomID)
	if !ok {
		roomsNotLive.Add(c.Request.Context(), 1)
		c.String(http.StatusNotFound, "room not live")
		return
	}

	segmentsServed.Add(c.Request.Context(), 1)
	c.Header("Content-Type", "video/mp2t")
	c.Header("Cache-Control", "max-age=10")
	c.File(filepath.Join(dir, req.Segment))
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "hls",
	})
}
