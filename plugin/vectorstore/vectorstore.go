package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/incometax/taxbot/internal/util"
)

// ErrRetrievalUnavailable is returned when the index is missing, empty or unreachable.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Fragment is a passage returned by the index.
type Fragment struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float32
}

// Document is a passage to be indexed.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

type Config struct {
	DataDir   string
	IndexName string
	TopK      int
	Policy    util.RetryPolicy
}

// Store wraps a named chromem-go collection persisted on disk.
type Store struct {
	mu      sync.RWMutex
	db      *chromem.DB
	dir     string
	name    string
	topK    int
	policy  util.RetryPolicy
	embedFn chromem.EmbeddingFunc
	logger  zerolog.Logger
}

// New opens (or creates) the persistent index at DataDir/vectorstore/.
func New(cfg Config, embedFn chromem.EmbeddingFunc, logger zerolog.Logger) (*Store, error) {
	if cfg.IndexName == "" {
		return nil, errors.New("index name is required")
	}
	dir := filepath.Join(cfg.DataDir, "vectorstore")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create vectorstore dir")
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open vectorstore")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 4
	}
	return &Store{
		db:      db,
		dir:     dir,
		name:    cfg.IndexName,
		topK:    topK,
		policy:  cfg.Policy,
		embedFn: embedFn,
		logger:  logger,
	}, nil
}

// NewEmbeddingFunc adapts a langchaingo embedder to chromem.
func NewEmbeddingFunc(client embeddings.EmbedderClient) (chromem.EmbeddingFunc, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedder")
	}
	return embedder.EmbedQuery, nil
}

func (s *Store) IndexName() string {
	return s.name
}

func (s *Store) TopK() int {
	return s.topK
}

// Count returns the number of indexed passages, zero when the index does not exist.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(s.name, s.embedFn)
	if col == nil {
		return 0
	}
	return col.Count()
}

// Retrieve returns at most TopK passages most similar to query, best first.
func (s *Store) Retrieve(ctx context.Context, query string) ([]Fragment, error) {
	return s.RetrieveN(ctx, query, s.topK)
}

func (s *Store) RetrieveN(ctx context.Context, query string, k int) ([]Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(s.name, s.embedFn)
	if col == nil {
		return nil, fmt.Errorf("%w: index %q not found", ErrRetrievalUnavailable, s.name)
	}
	count := col.Count()
	if count == 0 {
		return nil, fmt.Errorf("%w: index %q is empty", ErrRetrievalUnavailable, s.name)
	}
	if k <= 0 {
		k = s.topK
	}
	if k > count {
		k = count
	}

	var results []chromem.Result
	err := util.Retry(ctx, s.policy, s.logger, nil, func(ctx context.Context) error {
		var err error
		results, err = col.Query(ctx, query, k, nil, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}

	out := make([]Fragment, 0, len(results))
	for _, r := range results {
		out = append(out, Fragment{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		})
	}
	s.logger.Debug().Str("index", s.name).Int("fragments", len(out)).Msg("retrieved fragments")
	return out, nil
}

// AddDocuments embeds and upserts the passages into the index.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(s.name, nil, s.embedFn)
	if err != nil {
		return errors.Wrapf(err, "failed to open collection %s", s.name)
	}
	list := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		list = append(list, chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		})
	}
	err = util.Retry(ctx, s.policy, s.logger, nil, func(ctx context.Context) error {
		return col.AddDocuments(ctx, list, runtime.NumCPU())
	})
	if err != nil {
		return errors.Wrapf(err, "failed to index %d documents", len(docs))
	}
	return nil
}
