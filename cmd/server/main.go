package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lexiqai/voice-bridge/internal/config"
	"github.com/lexiqai/voice-bridge/internal/events"
	"github.com/lexiqai/voice-bridge/internal/httpapi"
	"github.com/lexiqai/voice-bridge/internal/observability"
	"github.com/lexiqai/voice-bridge/internal/rpc"
	"github.com/lexiqai/voice-bridge/internal/session"
	"github.com/lexiqai/voice-bridge/internal/stt"
	"github.com/lexiqai/voice-bridge/internal/telephony"
	"github.com/lexiqai/voice-bridge/internal/tts"
)

const (
	sweepInterval   = 5 * time.Second
	endCallTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Str("tts_provider", cfg.TTSProvider).
		Str("language", cfg.Language).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Bridge Service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recognizer, err := stt.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create recognizer")
	}
	synthesizer, err := tts.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create synthesizer")
	}
	controller := telephony.NewTwilioCallController(cfg)

	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nats, err := events.ConnectNATS(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		publisher = nats
	}
	defer publisher.Close()

	registry := session.NewRegistry(session.Options{
		MarkName:     cfg.PlaybackMarkName,
		TalkTimeout:  cfg.TalkTimeoutDuration(),
		QueryTimeout: cfg.QueryTimeoutDuration(),
	}, session.Hooks{
		OnCreate: func(c *session.Call) {
			if err := publisher.Publish(ctx, events.CallCreated(c)); err != nil {
				logger.Warn().Err(err).Str("call_id", c.ID()).Msg("Failed to publish call.created")
			}
		},
		OnEnd: func(ctx context.Context, c *session.Call, reason session.EndReason) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endCallTimeout)
			defer cancel()

			if err := controller.EndCall(ctx, c.ID()); err != nil {
				logger.Warn().Err(err).Str("call_id", c.ID()).Str("reason", string(reason)).Msg("Failed to end call")
			}
			if err := publisher.Publish(ctx, events.CallEnded(c, reason)); err != nil {
				logger.Warn().Err(err).Str("call_id", c.ID()).Msg("Failed to publish call.ended")
			}
		},
	})
	go registry.Run(ctx, sweepInterval)

	var draining atomic.Bool
	readiness := map[string]observability.HealthCheckFunc{
		"sessions": func(context.Context) (bool, error) {
			if draining.Load() {
				return false, errors.New("draining")
			}
			return true, nil
		},
	}
	if cfg.NATSURL != "" {
		readiness["nats"] = func(context.Context) (bool, error) { return publisher.Healthy(), nil }
	}

	api := httpapi.New(httpapi.Options{
		APIKey:   cfg.APIKey,
		Sessions: registry,
		Media: telephony.MediaHandler(ctx, registry, recognizer, synthesizer,
			telephony.StreamOptionsFromConfig(cfg)),
		VoiceWebhook:   telephony.VoiceWebhookHandler(cfg.PublicHost),
		Readiness:      readiness,
		MetricsEnabled: cfg.MetricsEnabled,
	})

	// No write timeout: /generate long-polls and /media is a websocket.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("media_endpoint", fmt.Sprintf("ws://localhost:%s%s", cfg.Port, telephony.MediaPath)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	var grpcServer *rpc.Server
	if cfg.GRPCEnabled {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("Failed to listen for gRPC")
		}
		grpcServer = rpc.NewServer(cfg.APIKey, registry)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Fatal().Err(err).Msg("gRPC server failed")
			}
		}()
	}

	<-ctx.Done()
	stop()
	draining.Store(true)
	logger.Info().Int("active_calls", registry.Active()).Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	registry.Shutdown(shutdownCtx)
	if grpcServer != nil {
		grpcServer.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
