package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/imtaco/video-rtc-exp/hls/ffmpeg"
	"github.com/imtaco/video-rtc-exp/hls/orchestrator"
	"github.com/imtaco/video-rtc-exp/hlsserver"
	hlstransport "github.com/imtaco/video-rtc-exp/hlsserver/transport"
	"github.com/imtaco/video-rtc-exp/internal/config"
	"github.com/imtaco/video-rtc-exp/internal/engine"
	"github.com/imtaco/video-rtc-exp/internal/httputil"
	wsrpc "github.com/imtaco/video-rtc-exp/internal/jsonrpc/websocket"
	"github.com/imtaco/video-rtc-exp/internal/jwt"
	"github.com/imtaco/video-rtc-exp/internal/log"
	"github.com/imtaco/video-rtc-exp/internal/network"
	"github.com/imtaco/video-rtc-exp/internal/otel"
	"github.com/imtaco/video-rtc-exp/internal/retry"
	"github.com/imtaco/video-rtc-exp/internal/workflow"
	"github.com/imtaco/video-rtc-exp/rooms/service"
	roomstransport "github.com/imtaco/video-rtc-exp/rooms/transport"
	"github.com/imtaco/video-rtc-exp/wsgateway/signal"
)

type Config struct {
	App     config.App      `mapstructure:"app"`
	WSHttp  httputil.Config `mapstructure:"ws_http"`
	APIHttp httputil.Config `mapstructure:"api_http"`
	HLSHttp httputil.Config `mapstructure:"hls_http"`
	Otel    otel.Config     `mapstructure:"otel"`

	EngineURLs []string `mapstructure:"engine_urls"`

	JWTSecret      string   `mapstructure:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	HLSDir string `mapstructure:"hls_dir"`
	SDPDir string `mapstructure:"sdp_dir"`

	AudioPortStart int `mapstructure:"audio_port_start"`
	AudioPortEnd   int `mapstructure:"audio_port_end"`
	VideoPortStart int `mapstructure:"video_port_start"`
	VideoPortEnd   int `mapstructure:"video_port_end"`

	KeyframeAttempts int           `mapstructure:"keyframe_attempts"`
	KeyframeInterval time.Duration `mapstructure:"keyframe_interval"`
	CleanupGrace     time.Duration `mapstructure:"cleanup_grace"`

	FFmpegRetryDelay  time.Duration `mapstructure:"ffmpeg_retry_delay"`
	FFmpegKillTimeout time.Duration `mapstructure:"ffmpeg_kill_timeout"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("engine_urls", []string{"http://localhost:3000"})
		v.SetDefault("jwt_secret", "MY-secret-key-change-in-production")
		v.SetDefault("allowed_origins", []string{"*"})
		v.SetDefault("hls_dir", "/hls")
		v.SetDefault("sdp_dir", "/tmp/sdp")
		v.SetDefault("audio_port_start", 40000)
		v.SetDefault("audio_port_end", 49998)
		v.SetDefault("video_port_start", 50000)
		v.SetDefault("video_port_end", 59998)
		v.SetDefault("keyframe_attempts", 3)
		v.SetDefault("keyframe_interval", 500*time.Millisecond)
		v.SetDefault("cleanup_grace", 5*time.Minute)
		v.SetDefault("ffmpeg_retry_delay", 1*time.Second)
		v.SetDefault("ffmpeg_kill_timeout", 5*time.Second)

		config.Setup(v, "app")
		otel.Setup(v, "otel")
		httputil.Setup(v, "ws_http")
		httputil.Setup(v, "api_http")
		httputil.Setup(v, "hls_http")

		// override default addrs to ease testing
		v.SetDefault("ws_http.addr", "0.0.0.0:8081")
		v.SetDefault("api_http.addr", "0.0.0.0:8082")
		v.SetDefault("hls_http.addr", "0.0.0.0:8083")
	})
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(config.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	// Initialize OpenTelemetry
	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting media room server",
		log.String("hostIp", network.HostIP().String()),
		log.Strings("engineUrls", config.EngineURLs))

	pool, err := engine.NewPool(config.EngineURLs, logger.Module("Engine"))
	if err != nil {
		logger.Fatal("Failed to create engine pool", log.Error(err))
	}

	// engines may come up after us
	pinger := retry.New(logger.Module("EnginePing"), 500*time.Millisecond, 5*time.Second, 30*time.Second)
	if err := pinger.Do(ctx, func() error { return pool.Ping(ctx) }); err != nil {
		logger.Fatal("Engine workers unreachable", log.Error(err))
	}

	sdpGen := ffmpeg.NewSDPGenerator(config.SDPDir)
	transcoder := ffmpeg.NewTranscoder(
		config.HLSDir,
		sdpGen,
		config.FFmpegRetryDelay,
		config.FFmpegKillTimeout,
		logger.Module("Transcoder"),
	)

	orch := orchestrator.New(
		transcoder,
		orchestrator.NewPortAllocator(config.AudioPortStart, config.AudioPortEnd, logger.Module("AudioPorts")),
		orchestrator.NewPortAllocator(config.VideoPortStart, config.VideoPortEnd, logger.Module("VideoPorts")),
		orchestrator.Config{
			KeyframeAttempts: config.KeyframeAttempts,
			KeyframeInterval: config.KeyframeInterval,
			CleanupGrace:     config.CleanupGrace,
		},
		clockwork.NewRealClock(),
		logger.Module("Orchestrator"),
	)

	svc := service.NewRegistry(pool, orch, logger.Module("Rooms"))
	jwtAuth := jwt.NewAuth(config.JWTSecret)

	connMgr := signal.NewWSConnMgr(logger.Module("ConnMgr"))
	hook := signal.NewWSHook(svc, connMgr, jwtAuth, logger.Module("WSHook"))
	wsRPCServer := wsrpc.NewServer(hook, config.AllowedOrigins, logger.Module("WSRPC"))
	if _, err := signal.NewServer(wsRPCServer, svc, connMgr, logger.Module("Signal")); err != nil {
		logger.Fatal("Failed to create signal server", log.Error(err))
	}

	apiRouter := roomstransport.NewRouter(svc, jwtAuth, logger.Module("API"))
	hlsRouter, err := hlstransport.NewRouter(hlsserver.NewServiceIndex(svc), logger.Module("HLS"))
	if err != nil {
		logger.Fatal("Failed to create HLS router", log.Error(err))
	}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", wsRPCServer.HandleWebSocket)

	wsServer := httputil.NewServer(&config.WSHttp, wsMux)
	apiServer := httputil.NewServer(&config.APIHttp, apiRouter.Handler())
	hlsServer := httputil.NewServer(&config.HLSHttp, hlsRouter.Handler())

	var g errgroup.Group
	serve := func(name string, server *httputil.Server, addr string) {
		g.Go(func() error {
			logger.Info("Starting HTTP server",
				log.String("server", name),
				log.String("addr", addr))
			if err := server.Listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	serve("ws", wsServer, config.WSHttp.Addr)
	serve("api", apiServer, config.APIHttp.Addr)
	serve("hls", hlsServer, config.HLSHttp.Addr)

	go func() {
		if err := g.Wait(); err != nil {
			logger.Fatal("HTTP server failed", log.Error(err))
		}
	}()
	logger.Info("Media room server started")

	cleanup := func(ctx context.Context) {
		_ = wsServer.Shutdown(ctx)
		_ = apiServer.Shutdown(ctx)
		_ = hlsServer.Shutdown(ctx)

		svc.Shutdown(ctx)
		orch.Shutdown()

		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout)
}
