// Package apperr defines the typed failures surfaced by the medQuery core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to react to it.
type Kind int

const (
	// Internal is any unexpected failure. Detail stays in server-side logs.
	Internal Kind = iota
	// ConfigError is an invalid configuration, fatal at startup.
	ConfigError
	// ModelUnavailable means an embedding or generation model could not be loaded.
	ModelUnavailable
	// DimensionMismatch means a vector does not match the store dimension.
	DimensionMismatch
	// IngestionError means the source directory is missing or has no supported files.
	IngestionError
	// RetrievalEmpty means the vector store holds no entries at query time.
	RetrievalEmpty
	// GenerationTimeout means the generator did not finish within its budget.
	GenerationTimeout
)

var kindNames = map[Kind]string{
	Internal:          "internal",
	ConfigError:       "config_error",
	ModelUnavailable:  "model_unavailable",
	DimensionMismatch: "dimension_mismatch",
	IngestionError:    "ingestion_error",
	RetrievalEmpty:    "retrieval_empty",
	GenerationTimeout: "generation_timeout",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure tagged with a Kind. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	switch {
	case e.Msg != "":
		msg += ": " + e.Msg
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets callers
// compare against the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConfig            = &Error{Kind: ConfigError}
	ErrModelUnavailable  = &Error{Kind: ModelUnavailable}
	ErrDimensionMismatch = &Error{Kind: DimensionMismatch}
	ErrIngestion         = &Error{Kind: IngestionError}
	ErrRetrievalEmpty    = &Error{Kind: RetrievalEmpty}
	ErrGenerationTimeout = &Error{Kind: GenerationTimeout}
)

// New returns an *Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose message is formatted like fmt.Errorf.
// A %w verb is honoured so the cause stays reachable through Unwrap.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Op: op, Msg: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// PublicMessage is the text safe to show an end user for a given kind.
func PublicMessage(kind Kind) string {
	switch kind {
	case RetrievalEmpty:
		return "the knowledge base is empty; ingest documents before asking questions"
	case GenerationTimeout:
		return "the answer took too long to generate; please retry"
	case ModelUnavailable:
		return "the language model is currently unavailable"
	case ConfigError:
		return "the service is misconfigured"
	case IngestionError:
		return "document ingestion failed"
	case DimensionMismatch:
		return "stored vectors do not match the embedding model"
	default:
		return "internal error"
	}
}
