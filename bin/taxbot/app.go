package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/incometax/taxbot/internal/logger"
	"github.com/incometax/taxbot/plugin/llm"
	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/server/assistant"
	"github.com/incometax/taxbot/store"
	"github.com/incometax/taxbot/store/db"
)

// app holds the wired components shared by the commands.
type app struct {
	store     *store.Store
	index     *vectorstore.Store
	assistant *assistant.Assistant
}

func newIndex() (*vectorstore.Store, error) {
	model, err := llm.NewOpenAIModel(instanceProfile)
	if err != nil {
		return nil, err
	}
	embedFn, err := vectorstore.NewEmbeddingFunc(model)
	if err != nil {
		return nil, err
	}
	return vectorstore.New(vectorstore.Config{
		DataDir:   instanceProfile.Data,
		IndexName: instanceProfile.IndexName,
		TopK:      instanceProfile.TopK,
		Policy:    llm.PolicyFromProfile(instanceProfile),
	}, embedFn, logger.Component(rootLogger, "vectorstore"))
}

func newApp(_ context.Context) (*app, error) {
	driver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	s := store.New(driver, store.ExpiryPolicy{
		TTL:         instanceProfile.SessionTTL,
		MaxSessions: instanceProfile.MaxSessions,
	})

	client, err := llm.NewOpenAI(instanceProfile, logger.Component(rootLogger, "llm"))
	if err != nil {
		s.Close()
		return nil, err
	}
	index, err := newIndex()
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to open index")
	}
	if index.Count() == 0 {
		rootLogger.Warn().Str("index", index.IndexName()).Msg("index is empty, run `taxbot ingest` first")
	}

	a, err := assistant.New(s, client, index, assistant.Config{
		HistoryTokenLimit:       instanceProfile.HistoryTokenLimit,
		DictionaryModelFallback: instanceProfile.DictionaryModelFallback,
	}, logger.Component(rootLogger, "assistant"))
	if err != nil {
		s.Close()
		return nil, err
	}
	return &app{store: s, index: index, assistant: a}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
