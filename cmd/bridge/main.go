package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/joho/godotenv"

	"github.com/voicebridge/core/pkg/bridge"
	"github.com/voicebridge/core/pkg/config"
	"github.com/voicebridge/core/pkg/logging"
	"github.com/voicebridge/core/pkg/providers/llm"
	"github.com/voicebridge/core/pkg/providers/realtime"
	"github.com/voicebridge/core/pkg/providers/stt"
	"github.com/voicebridge/core/pkg/providers/tts"
	"github.com/voicebridge/core/pkg/recorder"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	logger, err := logging.NewZapLogger(os.Getenv("BRIDGE_DEBUG") == "true")
	if err != nil {
		log.Fatalf("Error: failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.DefaultConfig()
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Error: invalid configuration: %v", err)
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Fatal("Error: DEEPGRAM_API_KEY must be set.")
	}
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	if lokutorKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set.")
	}
	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		log.Fatal("Error: OPENAI_API_KEY must be set.")
	}

	deps := bridge.Deps{
		Log: logger,
		STTFactory: func() stt.StreamingProvider {
			return stt.NewDeepgramStreaming(deepgramKey)
		},
		TTS: tts.NewLokutor(lokutorKey),
		LLM: llm.NewOpenAIStreamingChat(openaiKey, cfg.ResponseModel),
	}

	if cfg.Streaming.TTSMode != config.TTSModeChunked {
		deps.Realtime = func() realtime.Session {
			return realtime.NewOpenAIRealtime(openaiKey, cfg.Realtime.Model)
		}
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rc := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		deps.Store = recorder.NewRedisStore(rc, 24*time.Hour)
	}

	b := bridge.NewBridge(cfg, deps)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Serve.Bind, cfg.Serve.Port),
		Handler: b.Handler(),
	}

	go func() {
		logger.Infow("bridge listening", "addr", srv.Addr, "path", cfg.Serve.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error: server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown did not complete cleanly", "err", err)
	}
}

// applyEnvOverrides layers environment variables over DefaultConfig, for
// the fields an operator most commonly needs to set per deployment.
func applyEnvOverrides(cfg *config.Config) {
	cfg.BridgeSecret = os.Getenv("BRIDGE_SECRET")
	if v := os.Getenv("BRIDGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serve.Port = n
		}
	}
	if v := os.Getenv("BRIDGE_PATH"); v != "" {
		cfg.Serve.Path = v
	}
	if v := os.Getenv("TTS_MODE"); v != "" {
		cfg.Streaming.TTSMode = config.TTSMode(v)
	}
	if v := os.Getenv("RESPONSE_MODEL"); v != "" {
		cfg.ResponseModel = v
	}
	if v := os.Getenv("RESPONSE_SYSTEM_PROMPT"); v != "" {
		cfg.ResponseSystemPrompt = v
	}
	if v := os.Getenv("REALTIME_MODEL"); v != "" {
		cfg.Realtime.Model = v
	}
	if v := os.Getenv("TTS_VOICE"); v != "" {
		cfg.TTS.Voice = v
		cfg.Realtime.Voice = v
	}
	if v := os.Getenv("INBOUND_GREETING"); v != "" {
		cfg.Inbound.Greeting = v
	}

	switch mode := os.Getenv("AUTH_MODE"); mode {
	case string(config.AuthModeOpen), string(config.AuthModeAllowlist), string(config.AuthModeTenantOnly), string(config.AuthModeDisabled):
		cfg.Authorization.Mode = config.AuthMode(mode)
	}
	if v := os.Getenv("ALLOW_FROM"); v != "" {
		cfg.Authorization.AllowFrom = splitAndTrim(v)
	}
	if v := os.Getenv("ALLOWED_TENANTS"); v != "" {
		cfg.Authorization.AllowedTenants = splitAndTrim(v)
	}
	if v := os.Getenv("ALLOW_PSTN"); v != "" {
		cfg.Authorization.AllowPSTN = v == "true"
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
