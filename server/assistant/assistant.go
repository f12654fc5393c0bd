// Package assistant answers income-tax questions against the indexed law text,
// keeping a conversation history per session.
package assistant

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/store"
)

type Config struct {
	// HistoryTokenLimit bounds the history sent with each answer. Zero sends all of it.
	HistoryTokenLimit int
	// DictionaryModelFallback lets the model apply the dictionary when no literal rule matched.
	DictionaryModelFallback bool
	// Examples replaces the built-in few-shot examples when set.
	Examples []ExamplePair
	// Dictionary replaces the built-in dictionary when set.
	Dictionary []Rule
}

// Assistant runs the question pipeline: normalize, rewrite, retrieve, answer.
type Assistant struct {
	store      *store.Store
	normalizer *Normalizer
	rewriter   *Rewriter
	retriever  Retriever
	generator  *Generator
	locks      *sessionLocks
	logger     zerolog.Logger
}

func New(s *store.Store, model ChatModel, retriever Retriever, cfg Config, logger zerolog.Logger) (*Assistant, error) {
	var err error
	examples := cfg.Examples
	if examples == nil {
		if examples, err = DefaultExamples(); err != nil {
			return nil, err
		}
	}
	rules := cfg.Dictionary
	if rules == nil {
		if rules, err = DefaultDictionary(); err != nil {
			return nil, err
		}
	}
	generator, err := NewGenerator(model, examples, cfg.HistoryTokenLimit, logger)
	if err != nil {
		return nil, err
	}
	return &Assistant{
		store:      s,
		normalizer: NewNormalizer(rules, model, cfg.DictionaryModelFallback, logger),
		rewriter:   NewRewriter(model, logger),
		retriever:  retriever,
		generator:  generator,
		locks:      newSessionLocks(),
		logger:     logger,
	}, nil
}

// Ask starts an exchange on the session. Steps before generation run
// synchronously and their errors are returned here; generation errors are
// reported by the stream. Exchanges on the same session run one at a time.
func (a *Assistant) Ask(ctx context.Context, sessionUID, question string) (*Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	release, err := a.locks.acquire(ctx, sessionUID)
	if err != nil {
		return nil, errors.Wrap(err, "waiting for session")
	}

	stream, req, history, err := a.prepare(ctx, sessionUID, question)
	if err != nil {
		release()
		return nil, err
	}

	go func() {
		answer, err := a.generator.Generate(ctx, req, func(ctx context.Context, text string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stream.answer.WriteString(text)
			select {
			case stream.chunks <- Chunk{Text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err == nil {
			// A caller that gave up after the last chunk still gets nothing recorded.
			err = ctx.Err()
		}
		if err == nil {
			err = history.AddExchange(ctx, question, answer)
		}
		if err != nil {
			a.logger.Warn().Err(err).Str("session", sessionUID).Msg("exchange failed")
		} else {
			a.logger.Info().Str("session", sessionUID).Int("fragments", len(req.Fragments)).Int("answer_len", len(answer)).Msg("exchange completed")
		}
		stream.err = err
		release()
		close(stream.chunks)
		close(stream.done)
	}()
	return stream, nil
}

func (a *Assistant) prepare(ctx context.Context, sessionUID, question string) (*Stream, Request, *store.History, error) {
	history, err := a.store.GetOrCreateHistory(ctx, sessionUID)
	if err != nil {
		return nil, Request{}, nil, err
	}
	turns, err := history.Messages(ctx)
	if err != nil {
		return nil, Request{}, nil, errors.Wrap(err, "failed to load history")
	}

	normalized, err := a.normalizer.Normalize(ctx, question)
	if err != nil {
		return nil, Request{}, nil, errors.Wrap(err, "failed to normalize question")
	}
	standalone, err := a.rewriter.Rewrite(ctx, normalized, turns)
	if err != nil {
		return nil, Request{}, nil, errors.Wrap(err, "failed to rewrite question")
	}
	fragments, err := a.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return nil, Request{}, nil, err
	}
	a.logger.Debug().
		Str("session", sessionUID).
		Str("normalized", normalized).
		Str("standalone", standalone).
		Int("turns", len(turns)).
		Int("fragments", len(fragments)).
		Msg("prepared exchange")

	stream := newStream()
	stream.Input = question
	stream.Question = normalized
	stream.Standalone = standalone
	stream.Fragments = fragments
	req := Request{
		Question:  normalized,
		Fragments: fragments,
		History:   turns,
	}
	return stream, req, history, nil
}

// Search retrieves passages for a question without generating an answer.
// It returns the normalized question with the passages.
func (a *Assistant) Search(ctx context.Context, question string) (string, []vectorstore.Fragment, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", nil, ErrEmptyQuestion
	}
	normalized, err := a.normalizer.Normalize(ctx, question)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to normalize question")
	}
	fragments, err := a.retriever.Retrieve(ctx, normalized)
	if err != nil {
		return "", nil, err
	}
	return normalized, fragments, nil
}
