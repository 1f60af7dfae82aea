// Package relevance gates candidate pages at two levels: link-level scoring
// of search results before any fetch, and content-level evaluation of the
// fetched, cleaned text. Both talk to the completion backend and clamp every
// score into [0,1].
package relevance

import "fmt"

// NeutralScore is returned when the backend's answer cannot be interpreted.
// Callers must treat it as "uncertain", not "evaluated".
const NeutralScore = 0.5

// ParseError reports a backend response that could not be decoded into the
// expected shape.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable relevance response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// clamp normalizes a raw score into [0,1].
func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
