package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lokutor-ai/pharma-voice-agent/internal/config"
	"github.com/lokutor-ai/pharma-voice-agent/pkg/catalog"
	"github.com/lokutor-ai/pharma-voice-agent/pkg/ordersink"
	"github.com/lokutor-ai/pharma-voice-agent/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/pharma-voice-agent/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/pharma-voice-agent/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/pharma-voice-agent/pkg/providers/tts"
	"github.com/lokutor-ai/pharma-voice-agent/pkg/stock"
	"github.com/lokutor-ai/pharma-voice-agent/pkg/transport"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := orchestrator.NewZerologAdapter(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, mustEnv(log, "DATABASE_URL"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	var cache *redis.Client
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		cache = redis.NewClient(opts)
		defer cache.Close()
	}

	stt, llm, tts := buildProviders(log, cache)

	orch := orchestrator.New(stt, llm, tts, cfg.ToOrchestratorConfig())

	extractor, ok := llm.(orchestrator.LLMExtractor)
	if !ok {
		log.Fatal().Str("llm", llm.Name()).Msg("configured LLM provider does not implement structured extraction")
	}

	embedder := catalog.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_EMBEDDING_MODEL"))
	catalogIndex := catalog.NewIndex(catalog.NewPostgres(pool), embedder, catalog.NewFuzzyIndex(nil))
	stockSvc := stock.New(pool, cache)
	sink := ordersink.New(pool, ordersink.Thresholds{
		HighAmount:    cfg.HighAmountThreshold,
		MinConfidence: cfg.MinOrderConfidence,
	})

	deps := orchestrator.Dependencies{
		Catalog:   catalogIndex,
		Stock:     stockSvc,
		Extractor: extractor,
		Sink:      sink,
		Logger:    logger,
	}

	co := orchestrator.NewCallOrchestrator(orch, deps, cfg.ToOrchestratorConfig(), logger)

	go reapStaleCalls(ctx, co, cfg, logger)

	mediaServer := transport.NewServer(nil)
	http.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		session, err := mediaServer.Accept(w, r)
		if err != nil {
			logger.Warn("media transport rejected connection", "err", err)
			return
		}

		phone := r.URL.Query().Get("phone")
		stream, err := co.StartCall(r.Context(), session.ID(), phone)
		if err != nil {
			logger.Warn("call admission failed", "callID", session.ID(), "err", err)
			session.Stop(r.Context())
			return
		}
		defer stream.Close()

		if err := co.ServeMedia(r.Context(), session.ID(), session); err != nil {
			logger.Warn("call ended with error", "callID", session.ID(), "err", err)
		}
	})

	addr := os.Getenv("AGENT_HTTP_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	logger.Info("pharma voice agent listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("http server exited")
	}
}

// buildProviders selects STT/LLM/TTS providers from STT_PROVIDER/LLM_PROVIDER
// env vars, the same switch the local-mic CLI demo this replaced used, and
// wraps TTS in the redis-backed cache.
func buildProviders(log zerolog.Logger, cache *redis.Client) (orchestrator.STTProvider, orchestrator.LLMProvider, orchestrator.TTSProvider) {
	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	if lokutorKey == "" {
		log.Fatal().Msg("LOKUTOR_API_KEY must be set")
	}

	sttProviderName := os.Getenv("STT_PROVIDER")
	if sttProviderName == "" {
		sttProviderName = "deepgram"
	}
	llmProviderName := os.Getenv("LLM_PROVIDER")
	if llmProviderName == "" {
		llmProviderName = "groq"
	}

	var stt orchestrator.STTProvider
	switch sttProviderName {
	case "openai":
		requireKey(log, "OPENAI_API_KEY", openaiKey)
		stt = sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "assemblyai":
		requireKey(log, "ASSEMBLYAI_API_KEY", assemblyKey)
		stt = sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		requireKey(log, "GROQ_API_KEY", groqKey)
		groqModel := os.Getenv("GROQ_STT_MODEL")
		if groqModel == "" {
			groqModel = "whisper-large-v3-turbo"
		}
		stt = sttProvider.NewGroqSTT(groqKey, groqModel)
	case "deepgram":
		fallthrough
	default:
		requireKey(log, "DEEPGRAM_API_KEY", deepgramKey)
		stt = sttProvider.NewDeepgramSTT(deepgramKey)
	}

	var llm orchestrator.LLMProvider
	switch llmProviderName {
	case "openai":
		requireKey(log, "OPENAI_API_KEY", openaiKey)
		llm = llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
	case "anthropic":
		requireKey(log, "ANTHROPIC_API_KEY", anthropicKey)
		llm = llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
	case "google":
		requireKey(log, "GOOGLE_API_KEY", googleKey)
		llm = llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		requireKey(log, "GROQ_API_KEY", groqKey)
		llm = llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	}

	tts := ttsProvider.NewCachedTTS(ttsProvider.NewLokutorTTS(lokutorKey), cache)

	log.Info().Str("stt", sttProviderName).Str("llm", llmProviderName).Str("tts", "lokutor-cached").Msg("providers configured")
	return stt, llm, tts
}

func requireKey(log zerolog.Logger, name, value string) {
	if value == "" {
		log.Fatal().Str("env", name).Msg("required API key is not set")
	}
}

func mustEnv(log zerolog.Logger, name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatal().Str("env", name).Msg("required environment variable is not set")
	}
	return v
}

// reapStaleCalls periodically cancels calls admitted more than
// cfg.StaleCallAfter seconds ago, the same cleanup cadence as the original
// call_manager's cleanup_stale_calls loop (DESIGN.md).
func reapStaleCalls(ctx context.Context, co *orchestrator.CallOrchestrator, cfg *config.Config, logger orchestrator.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	staleAfter := time.Duration(cfg.StaleCallAfter) * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := co.ReapStale(staleAfter); n > 0 {
				logger.Info("reaped stale calls", "count", n)
			}
		}
	}
}
