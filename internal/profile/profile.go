package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	DefaultChatModel      = "gpt-4o"
	DefaultEmbeddingModel = "text-embedding-3-large"
	DefaultIndexName      = "tax-markdown-index"
	DefaultSessionID      = "google"
	DefaultTopK           = 4
)

// Profile is the configuration to start the assistant.
type Profile struct {
	// Mode can be "prod" or "dev".
	Mode string
	// Addr is the binding address for the HTTP server.
	Addr string
	// Port is the binding port for the HTTP server.
	Port int
	// Data is the data directory holding the vector index and the sqlite database.
	Data string
	// Driver is the session store driver: memory, sqlite, postgres or mysql.
	Driver string
	// DSN points to where the sessions are stored for SQL drivers.
	DSN string
	// LogLevel is a zerolog level name.
	LogLevel string

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	EmbeddingModel string
	Temperature    float64

	// IndexName is the vector collection holding the corpus.
	IndexName string
	TopK      int

	RequestTimeout time.Duration
	RetryAttempts  uint
	RetryDelay     time.Duration

	// SessionTTL evicts sessions idle for longer than this. Zero keeps them forever.
	SessionTTL time.Duration
	// MaxSessions caps the number of live sessions. Zero is unbounded.
	MaxSessions   int
	SweepInterval time.Duration

	// HistoryTokenLimit bounds the history sent to the model. Zero sends everything.
	HistoryTokenLimit int
	// DictionaryModelFallback asks the model to apply the dictionary when no literal rule matched.
	DictionaryModelFallback bool

	// RateLimit is the per-session request rate for the HTTP API. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// SessionID is the conversation used by the terminal chat.
	SessionID string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// Validate fills defaults and reports every invalid field at once.
func (p *Profile) Validate() error {
	var result *multierror.Error

	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}
	if p.Data == "" {
		p.Data = defaultDataDir(p.Mode)
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		result = multierror.Append(result, err)
	} else {
		p.Data = dataDir
	}

	p.Driver = strings.ToLower(strings.TrimSpace(p.Driver))
	switch p.Driver {
	case "":
		p.Driver = "memory"
	case "memory":
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(p.Data, fmt.Sprintf("taxbot_%s.db", p.Mode))
		}
	case "postgres", "mysql":
		if p.DSN == "" {
			result = multierror.Append(result, errors.Errorf("dsn is required for driver %q", p.Driver))
		}
	default:
		result = multierror.Append(result, errors.Errorf("unsupported driver %q", p.Driver))
	}

	if p.ChatModel == "" {
		p.ChatModel = DefaultChatModel
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = DefaultEmbeddingModel
	}
	if p.IndexName == "" {
		p.IndexName = DefaultIndexName
	}
	if p.SessionID == "" {
		p.SessionID = DefaultSessionID
	}
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 60 * time.Second
	}
	if p.RetryAttempts == 0 {
		p.RetryAttempts = 3
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = 500 * time.Millisecond
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = time.Minute
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		result = multierror.Append(result, errors.Errorf("temperature %v out of range [0, 2]", p.Temperature))
	}
	if p.SessionTTL < 0 {
		result = multierror.Append(result, errors.New("session ttl must not be negative"))
	}
	if p.MaxSessions < 0 {
		result = multierror.Append(result, errors.New("max sessions must not be negative"))
	}
	if p.HistoryTokenLimit < 0 {
		result = multierror.Append(result, errors.New("history token limit must not be negative"))
	}
	if p.RateLimit > 0 && p.RateBurst <= 0 {
		p.RateBurst = 1
	}

	return result.ErrorOrNil()
}

// RequireOpenAI reports whether credentials for the model service are present.
func (p *Profile) RequireOpenAI() error {
	if strings.TrimSpace(p.OpenAIAPIKey) == "" {
		return errors.New("OPENAI_API_KEY is not set")
	}
	return nil
}

func defaultDataDir(mode string) string {
	if mode == "prod" {
		return "/var/opt/taxbot"
	}
	return filepath.Join(".", ".taxbot")
}

func checkDataDir(dataDir string) (string, error) {
	if !filepath.IsAbs(dataDir) {
		abs, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = abs
	}
	dataDir = strings.TrimRight(dataDir, "\\/")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", dataDir)
	}
	return dataDir, nil
}
