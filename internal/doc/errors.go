package doc

import (
	"errors"
	"fmt"
)

// Error kinds partition failures by the layer that produced them and by
// how the orchestrator must react. All pipeline errors wrap one of
// these, so callers branch with errors.Is.
var (
	// ErrValidation marks caller-supplied input that is invalid.
	ErrValidation = errors.New("validation error")
	// ErrAuth marks a tenant mismatch on a session or stream.
	ErrAuth = errors.New("access denied")
	// ErrParse marks a parser or converter failure; fatal for the file.
	ErrParse = errors.New("parse error")
	// ErrAI marks an LLM or embedding failure, including malformed JSON.
	ErrAI = errors.New("ai error")
	// ErrRetrieval marks a vector store failure.
	ErrRetrieval = errors.New("retrieval error")
	// ErrStorage marks a blob or relational failure.
	ErrStorage = errors.New("storage error")
	// ErrExternal marks a third-party service failure.
	ErrExternal = errors.New("external service error")
	// ErrCancelled marks explicit caller cancellation.
	ErrCancelled = errors.New("cancelled")
	// ErrInternal marks an unexpected failure surfaced opaquely.
	ErrInternal = errors.New("internal error")
)

// Parser failure modes.
var (
	ErrUnsupported   = fmt.Errorf("%w: unsupported file type", ErrParse)
	ErrEmptyDocument = fmt.Errorf("%w: document is empty after parsing", ErrParse)
)

// ErrNoQueries is raised when the retrieval planner returns an empty
// query list. The pipeline never retries the planner.
var ErrNoQueries = fmt.Errorf("%w: planner returned no queries", ErrAI)
