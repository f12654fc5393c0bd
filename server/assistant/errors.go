package assistant

import (
	"context"

	"github.com/pkg/errors"

	"github.com/incometax/taxbot/plugin/llm"
	"github.com/incometax/taxbot/plugin/vectorstore"
	"github.com/incometax/taxbot/store"
)

// ErrEmptyQuestion is returned when the question is blank.
var ErrEmptyQuestion = errors.New("question is empty")

// PublicMessage names the error kind without upstream details, for callers
// outside the process.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		return ErrEmptyQuestion.Error()
	case errors.Is(err, store.ErrSessionNotFound):
		return store.ErrSessionNotFound.Error()
	case errors.Is(err, vectorstore.ErrRetrievalUnavailable):
		return vectorstore.ErrRetrievalUnavailable.Error()
	case errors.Is(err, llm.ErrModelUnavailable):
		return llm.ErrModelUnavailable.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled"
	default:
		return "internal error"
	}
}
