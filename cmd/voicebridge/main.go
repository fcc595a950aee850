// Command voicebridge serves the Twilio voice webhook and the Media Streams
// endpoint, running a negotiation agent on every call.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge"
	"github.com/agentplexus/voicebridge/callsystem"
	"github.com/agentplexus/voicebridge/internal/client"
	"github.com/agentplexus/voicebridge/internal/config"
	"github.com/agentplexus/voicebridge/internal/logging"
	"github.com/agentplexus/voicebridge/llm"
	"github.com/agentplexus/voicebridge/negotiation"
	"github.com/agentplexus/voicebridge/stt"
	"github.com/agentplexus/voicebridge/summary"
	"github.com/agentplexus/voicebridge/transport"
	"github.com/agentplexus/voicebridge/tts"
	"github.com/agentplexus/voicebridge/vad"
)

const shutdownTimeout = 60 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("voicebridge exited", zap.Error(err))
	}
}

// app holds the wired components of one server.
type app struct {
	router   *gin.Engine
	media    *transport.Provider
	agent    *negotiation.Agent
	calls    *callsystem.Provider
	closers  []io.Closer
	logger   *zap.Logger
	revision string
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("voice_path", cfg.VoicePath()),
			zap.String("stream_path", cfg.StreamPath()),
			zap.String("version", a.revision),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Int("active_streams", a.media.ActiveConnections()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Closing the streams finalizes their sessions; wait for the summaries
	// before the server goes away.
	_ = a.media.Close()
	if err := a.agent.Wait(shutdownCtx); err != nil {
		logger.Warn("sessions still finalizing at shutdown", zap.Error(err))
	}
	return srv.Shutdown(shutdownCtx)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	c, err := client.New(&client.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	transcriber, err := stt.New(c,
		stt.WithModel(cfg.OpenAI.STTModel),
		stt.WithLanguage(cfg.OpenAI.STTLanguage),
		stt.WithStreaming(cfg.OpenAI.STTStream),
		stt.WithTimeout(cfg.Pipeline.STTTimeout),
		stt.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	synthesizer, err := tts.New(c,
		tts.WithModel(cfg.OpenAI.TTSModel),
		tts.WithVoice(cfg.OpenAI.TTSVoice),
		tts.WithFormat(cfg.OpenAI.TTSFormat),
		tts.WithSampleRate(cfg.OpenAI.TTSSampleRate),
		tts.WithTimeout(cfg.Pipeline.TTSTimeout),
		tts.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	generator, err := llm.New(c,
		llm.WithModel(cfg.OpenAI.LLMModel),
		llm.WithTimeout(cfg.Pipeline.LLMTimeout),
		llm.WithSummaryTimeout(cfg.Pipeline.SummaryTimeout),
		llm.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	sink, closers, err := buildSink(ctx, cfg.Sink, logger)
	if err != nil {
		return nil, err
	}

	agent, err := negotiation.New(negotiation.Dependencies{
		Transcriber: transcriber,
		Responder:   generator,
		Synthesizer: synthesizer,
		Summarizer:  generator,
		Sink:        sink,
	},
		negotiation.WithVAD(vad.Config{
			Threshold: cfg.Pipeline.VADThreshold,
			BargeInMs: cfg.Pipeline.BargeInMs,
			ChunkMs:   cfg.Pipeline.ChunkMs,
			SilenceMs: cfg.Pipeline.SilenceMs,
		}),
		negotiation.WithSystemPrompt(cfg.OpenAI.SystemPrompt),
		negotiation.WithChunkMinChars(cfg.Pipeline.ChunkMinChars),
		negotiation.WithLogger(logger),
	)
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}

	callOpts := []callsystem.Option{
		callsystem.WithPublicBaseURL(cfg.PublicBaseURL),
		callsystem.WithStreamPath(cfg.StreamPath()),
		callsystem.WithGreeting(cfg.Twilio.Greeting),
		callsystem.WithLogger(logger),
	}
	if cfg.Twilio.ValidateSignature {
		callOpts = append(callOpts, callsystem.WithSignatureValidation(cfg.Twilio.AuthToken))
	}
	calls, err := callsystem.New(callOpts...)
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}

	media, err := transport.New(sessionFactory(agent, calls),
		transport.WithPath(cfg.StreamPath()),
		transport.WithLogger(logger),
	)
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}

	return &app{
		router:   newRouter(cfg, calls, media),
		media:    media,
		agent:    agent,
		calls:    calls,
		closers:  closers,
		logger:   logger,
		revision: voicebridge.Version,
	}, nil
}

func newRouter(cfg *config.Config, calls *callsystem.Provider, media *transport.Provider) *gin.Engine {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	calls.RegisterRoutes(router, cfg.VoicePath(), cfg.StatusPath())
	router.GET(media.Path(), gin.WrapH(media))
	router.GET("/health", callsystem.HealthHandler)
	return router
}

// trackedSession reports stream start and end to the call tracker.
type trackedSession struct {
	*negotiation.Session
	calls *callsystem.Provider
}

func (s trackedSession) Finalize(reason string) {
	s.Session.Finalize(reason)
	s.calls.StreamEnded(s.CallSid())
}

func sessionFactory(agent *negotiation.Agent, calls *callsystem.Provider) transport.SessionFactory {
	return func(start *transport.StartMessage, conn *transport.Connection) transport.Session {
		calls.StreamStarted(start.CallSid, start.StreamSid)
		return trackedSession{
			Session: agent.NewSession(start.CallSid, start.StreamSid, conn),
			calls:   calls,
		}
	}
}

// buildSink creates the configured summary sinks. The returned closers must
// be closed on shutdown.
func buildSink(ctx context.Context, cfg config.Sink, logger *zap.Logger) (summary.Sink, []io.Closer, error) {
	var (
		sinks   []summary.Sink
		closers []io.Closer
	)

	for _, kind := range cfg.Kinds {
		switch kind {
		case config.SinkLog:
			sinks = append(sinks, summary.NewLogSink(logger))

		case config.SinkS3:
			s, err := summary.NewS3Sink(ctx, summary.S3Config{
				Region:          cfg.AWSRegion,
				AccessKeyID:     cfg.AWSAccessKeyID,
				SecretAccessKey: cfg.AWSSecretAccessKey,
				Bucket:          cfg.S3Bucket,
			}, logger)
			if err != nil {
				closeAll(closers, logger)
				return nil, nil, fmt.Errorf("s3 summary sink: %w", err)
			}
			sinks = append(sinks, s)

		case config.SinkFirestore:
			s, err := summary.NewFirestoreSink(ctx, summary.FirestoreConfig{
				ProjectID:       cfg.FirestoreProjectID,
				CredentialsFile: cfg.FirestoreCredentialsFile,
				Collection:      cfg.FirestoreCollection,
			}, logger)
			if err != nil {
				closeAll(closers, logger)
				return nil, nil, fmt.Errorf("firestore summary sink: %w", err)
			}
			sinks = append(sinks, s)
			closers = append(closers, s)

		case config.SinkSQLite:
			s, err := summary.OpenSQLiteSink(cfg.SQLitePath, logger)
			if err != nil {
				closeAll(closers, logger)
				return nil, nil, fmt.Errorf("sqlite summary sink: %w", err)
			}
			sinks = append(sinks, s)
			closers = append(closers, s)

		default:
			closeAll(closers, logger)
			return nil, nil, fmt.Errorf("unknown summary sink %q", kind)
		}
	}

	if len(sinks) == 0 {
		sinks = append(sinks, summary.NewLogSink(logger))
	}
	if len(sinks) == 1 {
		return sinks[0], closers, nil
	}
	return summary.NewMultiSink(sinks...), closers, nil
}

func (a *app) close() {
	closeAll(a.closers, a.logger)
}

func closeAll(closers []io.Closer, logger *zap.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}
