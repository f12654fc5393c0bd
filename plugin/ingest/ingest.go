// Package ingest splits a markdown corpus into passages and loads them into the index.
package ingest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/incometax/taxbot/plugin/vectorstore"
)

const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
	batchSize           = 64
)

// chunkNamespace scopes the deterministic passage ids.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://taxbot/passages"))

// Indexer stores passages.
type Indexer interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
}

type Stats struct {
	Files  int
	Chunks int
}

type Ingester struct {
	splitter textsplitter.TextSplitter
	indexer  Indexer
	logger   zerolog.Logger
}

func New(indexer Indexer, chunkSize, chunkOverlap int, logger zerolog.Logger) *Ingester {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Ingester{
		splitter: textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		indexer: indexer,
		logger:  logger,
	}
}

// ChunkID is stable for a given source name and chunk position, so re-ingesting overwrites.
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(source+"#"+strconv.Itoa(index))).String()
}

// Split turns one markdown file into passages.
func (i *Ingester) Split(source, text string) ([]vectorstore.Document, error) {
	chunks, err := i.splitter.SplitText(text)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to split %s", source)
	}
	docs := make([]vectorstore.Document, 0, len(chunks))
	for idx, chunk := range chunks {
		docs = append(docs, vectorstore.Document{
			ID:      ChunkID(source, idx),
			Content: chunk,
			Metadata: map[string]string{
				"source": source,
				"chunk":  strconv.Itoa(idx),
			},
		})
	}
	return docs, nil
}

// Run indexes every file of the source.
func (i *Ingester) Run(ctx context.Context, source Source) (Stats, error) {
	stats := Stats{}
	names, err := source.List(ctx)
	if err != nil {
		return stats, err
	}
	if len(names) == 0 {
		return stats, errors.New("no markdown files found")
	}

	pending := []vectorstore.Document{}
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := i.indexer.AddDocuments(ctx, pending); err != nil {
			return err
		}
		stats.Chunks += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, name := range names {
		text, err := source.Read(ctx, name)
		if err != nil {
			return stats, err
		}
		docs, err := i.Split(name, text)
		if err != nil {
			return stats, err
		}
		stats.Files++
		i.logger.Info().Str("source", name).Int("chunks", len(docs)).Msg("split document")
		for _, doc := range docs {
			pending = append(pending, doc)
			if len(pending) >= batchSize {
				if err := flush(); err != nil {
					return stats, fmt.Errorf("indexing %s: %w", name, err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		return stats, errors.Wrap(err, "failed to index final batch")
	}
	return stats, nil
}
