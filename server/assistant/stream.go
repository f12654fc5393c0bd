package assistant

import (
	"strings"

	"github.com/incometax/taxbot/plugin/vectorstore"
)

// Chunk is a piece of a streamed answer.
type Chunk struct {
	Text string
}

// Stream delivers an answer as it is generated. The consumer must drain
// Chunks or cancel the context passed to Ask.
type Stream struct {
	// Input is the question as the caller asked it. It is what history records.
	Input string
	// Question is the question after dictionary normalization.
	Question string
	// Standalone is the question used for retrieval.
	Standalone string
	Fragments  []vectorstore.Fragment

	chunks chan Chunk
	done   chan struct{}
	answer strings.Builder
	err    error
}

func newStream() *Stream {
	return &Stream{
		chunks: make(chan Chunk, 16),
		done:   make(chan struct{}),
	}
}

func (s *Stream) Chunks() <-chan Chunk {
	return s.chunks
}

// Err blocks until the exchange finished and reports why it failed, if it did.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Answer blocks until the exchange finished and returns the text streamed so far.
func (s *Stream) Answer() string {
	<-s.done
	return s.answer.String()
}

// Collect drains the stream and returns the full answer.
func (s *Stream) Collect() (string, error) {
	for range s.chunks {
	}
	return s.Answer(), s.Err()
}
