package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dimiro1/banner"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-interview/internal/api"
	"github.com/lexiqai/voice-interview/internal/config"
	"github.com/lexiqai/voice-interview/internal/idgen"
	"github.com/lexiqai/voice-interview/internal/interview"
	"github.com/lexiqai/voice-interview/internal/llm"
	"github.com/lexiqai/voice-interview/internal/maintenance"
	"github.com/lexiqai/voice-interview/internal/memory"
	"github.com/lexiqai/voice-interview/internal/observability"
	"github.com/lexiqai/voice-interview/internal/orchestrator"
	"github.com/lexiqai/voice-interview/internal/resilience"
	"github.com/lexiqai/voice-interview/internal/storage"
	"github.com/lexiqai/voice-interview/internal/stt"
	"github.com/lexiqai/voice-interview/internal/transport"
	"github.com/lexiqai/voice-interview/internal/tts"
)

const bannerTemplate = `{{ .Title "voice interview" "" 0 }}
{{ .AnsiColor.BrightBlack }}{{ .GoVersion }} {{ .GOOS }}/{{ .GOARCH }} {{ .Now "2006-01-02 15:04:05" }}{{ .AnsiColor.Default }}
`

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogPretty {
		banner.Init(os.Stdout, true, true, bytes.NewBufferString(bannerTemplate))
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("llm_provider", cfg.LLMProvider).
		Str("asr_provider", cfg.ASRProvider).
		Str("tts_provider", cfg.TTSProvider).
		Str("store_driver", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice interview service starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	dsn := cfg.DBPath
	if cfg.StoreDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	store, err := storage.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ids, err := idgen.New(cfg.SnowflakeID)
	if err != nil {
		return err
	}

	topics, err := config.LoadTopics(cfg.TopicsFile)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		logger.Warn().Str("path", cfg.TopicsFile).Msg("No interview topics configured, interviews finish immediately")
	}

	breakers := map[string]*resilience.CircuitBreaker{}
	newBreaker := func(name string) *resilience.CircuitBreaker {
		cb := resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures, cfg.BreakerReset())
		cb.OnStateChange(func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		})
		breakers[name] = cb
		return cb
	}

	completer, err := newCompleter(ctx, cfg, newBreaker("llm"))
	if err != nil {
		return err
	}
	asr := newTranscriber(cfg, newBreaker("asr"))
	synth, err := newSynthesizer(cfg, newBreaker("tts"))
	if err != nil {
		return err
	}
	encoder, err := tts.NewEncoder(cfg.OutputEncoding, synth.SampleRate(), cfg.OutputRate())
	if err != nil {
		return err
	}

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    cfg.RetryBackoff(),
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	ivOpts := interview.Options{MaxLen: cfg.ContextMaxLen, Retry: retry}

	chats := memory.NewRegistry("chat", func(int64) (*memory.Memory, error) {
		return memory.NewChat(cfg.ContextMaxLen), nil
	})
	interviews := memory.NewRegistry("interview", func(id int64) (*interview.Interview, error) {
		loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return interview.Open(loadCtx, store, id, topics, ivOpts)
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", transport.NewHandler(cfg, transport.Deps{
		Chats:      chats,
		Interviews: interviews,
		IDs:        ids,
		ASR:        asr,
		Runner:     orchestrator.NewRunner(completer, synth, encoder, cfg.SegmentMinChars),
	}))
	api.NewHandler(interviews, ids, orchestrator.NewRunner(completer, nil, nil, cfg.SegmentMinChars)).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"store": store.Ping,
	}
	for name, cb := range breakers {
		checks[name] = func(context.Context) error {
			state, requests, failures, _ := cb.GetStats()
			if state == resilience.StateOpen {
				return fmt.Errorf("%w: %d of %d requests failed", resilience.ErrCircuitOpen, failures, requests)
			}
			return nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Replies stream for as long as generation takes, so only headers are bounded.
	// Sessions inherit ctx so hijacked websockets close on shutdown.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 2)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint(cfg)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var grpcHealth *observability.GRPCHealth
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		grpcHealth = observability.NewGRPCHealth()
		go func() {
			logger.Info().Str("port", cfg.GRPCHealthPort).Msg("gRPC health server listening")
			if err := grpcHealth.Serve(lis); err != nil {
				serverErr <- fmt.Errorf("grpc health: %w", err)
			}
		}()
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		maintenance.New(completer, maintenance.Options{
			Interval:      cfg.Maintenance(),
			IdleTTL:       cfg.IdleTTL(),
			RecordTimeout: 2 * time.Minute,
		}, chats, interviews).Run(sweepCtx)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}

	logger.Info().Msg("Shutting down server...")

	stopSweep()
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-sweepDone
	return runErr
}

func endpoint(cfg *config.Config) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL + "/ws"
	}
	return fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)
}

func newCompleter(ctx context.Context, cfg *config.Config, cb *resilience.CircuitBreaker) (llm.Completer, error) {
	opts := llm.Options{
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Breaker:     cb,
	}
	key := cfg.OpenAIAPIKey
	switch cfg.LLMProvider {
	case "gemini":
		key = cfg.GeminiAPIKey
		opts.Model = cfg.GeminiModel
	default:
		opts.Model = cfg.OpenAIModel
		opts.BaseURL = cfg.OpenAIBaseURL
	}
	return llm.NewCompleter(ctx, cfg.LLMProvider, key, opts)
}

func newTranscriber(cfg *config.Config, cb *resilience.CircuitBreaker) stt.Transcriber {
	if cfg.ASRProvider == "deepgram" {
		return stt.NewDeepgramClient(cfg.DeepgramAPIKey, stt.DeepgramOptions{
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
			Timeout:  time.Duration(cfg.DeepgramTimeout) * time.Second,
			Breaker:  cb,
		})
	}
	return stt.NewWhisperClient(cfg.OpenAIAPIKey, stt.WhisperOptions{
		Model:    cfg.WhisperModel,
		Language: cfg.ASRLanguage,
		BaseURL:  cfg.OpenAIBaseURL,
		Breaker:  cb,
	})
}

func newSynthesizer(cfg *config.Config, cb *resilience.CircuitBreaker) (tts.Synthesizer, error) {
	opts := tts.Options{
		SampleRate: cfg.TTSSampleRate,
		Language:   cfg.ASRLanguage,
		Breaker:    cb,
	}
	switch cfg.TTSProvider {
	case "cartesia":
		opts.APIKey = cfg.CartesiaAPIKey
		opts.Model = cfg.CartesiaModelID
		opts.Voice = cfg.CartesiaVoiceID
	default:
		opts.APIKey = cfg.OpenAIAPIKey
		opts.BaseURL = cfg.OpenAIBaseURL
		opts.Model = cfg.OpenAITTSModel
		opts.Voice = cfg.OpenAITTSVoice
	}
	return tts.New(cfg.TTSProvider, opts)
}
