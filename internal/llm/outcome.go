package llm

// Source records which path produced a value at a remote call site.
type Source string

const (
	// SourceRemote means the completion service answered and its reply parsed.
	SourceRemote Source = "remote"
	// SourceFallback means the deterministic heuristic produced the value.
	SourceFallback Source = "fallback"
)

// Outcome is the result of a call site that may use the completion service.
// Value is always usable. Err holds the service or parse failure that forced
// the fallback, and is nil when no client was configured.
type Outcome[T any] struct {
	Value  T
	Source Source
	Err    error
}

// Remote wraps a value produced by the completion service.
func Remote[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Source: SourceRemote}
}

// Fallback wraps a heuristic value and the failure (possibly nil) that caused it.
func Fallback[T any](v T, err error) Outcome[T] {
	return Outcome[T]{Value: v, Source: SourceFallback, Err: err}
}

// UsedRemote reports whether the value came from the completion service.
func (o Outcome[T]) UsedRemote() bool {
	return o.Source == SourceRemote
}

// Tally counts how many call sites used each path during one build.
type Tally struct {
	Remote   int `json:"remote"`
	Fallback int `json:"fallback"`
	Failures int `json:"failures"`
}

// Add records one outcome's source and failure.
func (t *Tally) Add(source Source, err error) {
	if source == SourceRemote {
		t.Remote++
	} else {
		t.Fallback++
	}
	if err != nil {
		t.Failures++
	}
}
