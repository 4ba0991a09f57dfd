package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tutor/backend/internal/audio"
	"github.com/zhouzirui/z-tutor/backend/internal/config"
	"github.com/zhouzirui/z-tutor/backend/internal/credentials"
	"github.com/zhouzirui/z-tutor/backend/internal/handler"
	"github.com/zhouzirui/z-tutor/backend/internal/logger"
	"github.com/zhouzirui/z-tutor/backend/internal/metrics"
	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/model/tutor"
	"github.com/zhouzirui/z-tutor/backend/internal/service/ai"
	emotionservice "github.com/zhouzirui/z-tutor/backend/internal/service/emotion"
	"github.com/zhouzirui/z-tutor/backend/internal/service/transcript"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
	"github.com/zhouzirui/z-tutor/backend/internal/transport"
	"github.com/zhouzirui/z-tutor/backend/internal/transport/bedrock"
	"github.com/zhouzirui/z-tutor/backend/internal/transport/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	tutors := tutor.NewMemoryStore(tutor.Seed())
	transcripts := transcript.NewService()
	prompts := ai.NewBuilder(tutors)

	// 文本回复与情绪分析共用一个 Ark 模型
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, text messages disabled", "error", err)
			chatModel = nil
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过文本回复功能初始化")
	}

	emotionCfg := emotionservice.Config{
		Enabled:      cfg.AI.EmotionLLMEnabled,
		HistoryLimit: cfg.AI.EmotionHistoryLimit,
	}
	var emotionModel model.BaseChatModel
	if chatModel != nil {
		emotionModel = chatModel
	}
	emotionSvc, err := emotionservice.NewService(ctx, emotionModel, emotionCfg)
	if err != nil {
		logger.Warn("failed to initialize emotion service, using heuristics only", "error", err)
		emotionSvc, _ = emotionservice.NewService(ctx, nil, emotionCfg)
	}
	if emotionSvc.Enabled() {
		logger.Info("emotion classifier enabled")
	}

	deps := voice.Deps{
		Credentials:  newCredentials(ctx, cfg.Voice),
		Dialer:       newDialer(cfg.Voice),
		Instructions: prompts,
	}
	if chatModel != nil {
		responder, err := ai.NewService(ctx, chatModel, prompts, transcripts, emotionSvc)
		if err != nil {
			logger.Warn("failed to initialize AI service", "error", err)
		} else {
			deps.Responder = responder
			logger.Info("AI text responder initialized")
		}
	}

	hub := audio.NewHub(audio.Input16k)
	deps.Sources = hub
	deps.Sinks = hub

	manager := voice.NewManager(deps, voice.Options{
		Endpoint: transport.Endpoint{
			Region:  cfg.Voice.Region,
			ModelID: cfg.Voice.ModelID,
			URL:     cfg.Voice.RelayURL,
		},
		Inference: voice.InferenceConfig{
			MaxTokens:   cfg.Voice.MaxTokens,
			TopP:        cfg.Voice.TopP,
			Temperature: cfg.Voice.Temperature,
		},
		DefaultVoice:   cfg.Voice.DefaultVoice,
		ChunkInterval:  cfg.Voice.ChunkInterval,
		WatchdogWindow: cfg.Voice.Watchdog,
		HandshakeDelay: cfg.Voice.HandshakeDelay,
		WriteTimeout:   cfg.Voice.WriteTimeout,
	})

	collector := metrics.New(metrics.DefaultNamespace)
	transcripts.SetMetadataLookup(func(sessionID string) (conversation.Metadata, bool) {
		info, err := manager.GetSessionInfo(sessionID)
		if err != nil {
			return conversation.Metadata{}, false
		}
		return info.Metadata, true
	})
	manager.Subscribe(transcripts)
	manager.Subscribe(collector)
	manager.Subscribe(voice.LogListener())

	router := handler.NewRouter(handler.Deps{
		Conversations: manager,
		Hub:           hub,
		InputFormat:   audio.Format{SampleRate: cfg.Voice.InputRate, Channels: 1, BitsPerSample: 16},
		Tutors:        tutors,
		Transcripts:   transcripts,
		Metrics:       collector.Handler(),
		CORSOrigins:   cfg.Server.CORSOrigins,
	})

	startServer(ctx, cfg.Server, router)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("voice sessions did not close cleanly", "error", err)
	}
}

func newCredentials(ctx context.Context, cfg config.VoiceConfig) credentials.Provider {
	provider, err := credentials.NewAWSProvider(ctx, credentials.AWSOptions{
		Region:          cfg.Region,
		Profile:         cfg.Profile,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		RoleARN:         cfg.RoleARN,
	})
	if err != nil {
		logger.Warn("AWS credentials unavailable, conversations will be rejected", "error", err)
		return nil
	}
	return provider
}

func newDialer(cfg config.VoiceConfig) transport.Dialer {
	if cfg.Transport == config.TransportRelay {
		opts := relay.DefaultOptions()
		if cfg.RelayGzip {
			opts.Encoding = relay.Gzip
		}
		logger.Info("using relay transport", "url", cfg.RelayURL, "gzip", cfg.RelayGzip)
		return relay.NewDialer(opts)
	}
	logger.Info("using bedrock transport", "region", cfg.Region, "model", cfg.ModelID)
	return bedrock.NewDialer()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Z Tutor backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
