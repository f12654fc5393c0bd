package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/incometax/taxbot/internal/logger"
	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/internal/version"
)

var (
	instanceProfile *profile.Profile
	rootLogger      zerolog.Logger

	rootCmd = &cobra.Command{
		Use:   "taxbot",
		Short: "A conversational assistant for the Korean Income Tax Act.",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile = loadProfile()
			if err := instanceProfile.Validate(); err != nil {
				return err
			}
			rootLogger = logger.New(instanceProfile.Mode, instanceProfile.LogLevel)
			return nil
		},
		SilenceUsage: true,
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("addr", "")
	viper.SetDefault("port", 8081)
	viper.SetDefault("driver", "memory")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("chat-model", profile.DefaultChatModel)
	viper.SetDefault("embedding-model", profile.DefaultEmbeddingModel)
	viper.SetDefault("index-name", profile.DefaultIndexName)
	viper.SetDefault("top-k", profile.DefaultTopK)
	viper.SetDefault("request-timeout", 60*time.Second)
	viper.SetDefault("retry-attempts", 3)
	viper.SetDefault("retry-delay", 500*time.Millisecond)
	viper.SetDefault("sweep-interval", time.Minute)
	viper.SetDefault("dictionary-model-fallback", true)
	viper.SetDefault("session-id", profile.DefaultSessionID)

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of the server, can be "prod" or "dev"`)
	flags.String("data", "", "data directory for the index and the sqlite database")
	flags.String("driver", "memory", "session store driver: memory, sqlite, postgres or mysql")
	flags.String("dsn", "", "database source name for the session store")
	flags.String("log-level", "info", "log level")
	flags.String("openai-base-url", "", "OpenAI compatible API base url")
	flags.String("chat-model", profile.DefaultChatModel, "chat model name")
	flags.String("embedding-model", profile.DefaultEmbeddingModel, "embedding model name")
	flags.Float64("temperature", 0, "sampling temperature")
	flags.String("index-name", profile.DefaultIndexName, "vector index holding the law text")
	flags.Int("top-k", profile.DefaultTopK, "passages retrieved per question")
	flags.Duration("request-timeout", 60*time.Second, "timeout of each model or index call")
	flags.Uint("retry-attempts", 3, "attempts per model or index call")
	flags.Duration("retry-delay", 500*time.Millisecond, "initial retry backoff")
	flags.Duration("session-ttl", 0, "evict sessions idle for longer than this, 0 keeps them")
	flags.Int("max-sessions", 0, "maximum number of sessions kept, 0 is unbounded")
	flags.Duration("sweep-interval", time.Minute, "how often expired sessions are evicted")
	flags.Int("history-token-limit", 0, "token budget for the history sent with each question, 0 sends all of it")
	flags.Bool("dictionary-model-fallback", true, "let the model apply the dictionary when no literal rule matches")
	flags.String("session-id", profile.DefaultSessionID, "conversation used by chat, and by MCP tool calls that name none")

	for _, name := range []string{
		"mode", "data", "driver", "dsn", "log-level", "openai-base-url", "chat-model", "embedding-model",
		"temperature", "index-name", "top-k", "request-timeout", "retry-attempts", "retry-delay",
		"session-ttl", "max-sessions", "sweep-interval", "history-token-limit", "dictionary-model-fallback",
		"session-id",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("taxbot")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindEnv("openai-api-key", "TAXBOT_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newServeCmd(), newChatCmd(), newIngestCmd(), newMCPCmd())
}

func loadProfile() *profile.Profile {
	return &profile.Profile{
		Mode:                    viper.GetString("mode"),
		Addr:                    viper.GetString("addr"),
		Port:                    viper.GetInt("port"),
		Data:                    viper.GetString("data"),
		Driver:                  viper.GetString("driver"),
		DSN:                     viper.GetString("dsn"),
		LogLevel:                viper.GetString("log-level"),
		OpenAIAPIKey:            viper.GetString("openai-api-key"),
		OpenAIBaseURL:           viper.GetString("openai-base-url"),
		ChatModel:               viper.GetString("chat-model"),
		EmbeddingModel:          viper.GetString("embedding-model"),
		Temperature:             viper.GetFloat64("temperature"),
		IndexName:               viper.GetString("index-name"),
		TopK:                    viper.GetInt("top-k"),
		RequestTimeout:          viper.GetDuration("request-timeout"),
		RetryAttempts:           viper.GetUint("retry-attempts"),
		RetryDelay:              viper.GetDuration("retry-delay"),
		SessionTTL:              viper.GetDuration("session-ttl"),
		MaxSessions:             viper.GetInt("max-sessions"),
		SweepInterval:           viper.GetDuration("sweep-interval"),
		HistoryTokenLimit:       viper.GetInt("history-token-limit"),
		DictionaryModelFallback: viper.GetBool("dictionary-model-fallback"),
		RateLimit:               viper.GetFloat64("rate-limit"),
		RateBurst:               viper.GetInt("rate-burst"),
		SessionID:               viper.GetString("session-id"),
		S3Endpoint:              viper.GetString("s3-endpoint"),
		S3Region:                viper.GetString("s3-region"),
		S3Bucket:                viper.GetString("s3-bucket"),
		S3Prefix:                viper.GetString("s3-prefix"),
		S3AccessKey:             viper.GetString("s3-access-key"),
		S3SecretKey:             viper.GetString("s3-secret-key"),
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func currentVersion() string {
	return version.GetCurrentVersion(instanceProfile.Mode)
}
