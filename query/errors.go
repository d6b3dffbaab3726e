package query

import "fmt"

// JoinError reports join key or output columns that are missing, or key
// columns whose kinds cannot be compared across the two inputs.
type JoinError struct {
	Column string
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join column %q: %s", e.Column, e.Reason)
}

// NormalizationError reports a scaling column that is absent, non-numeric
// or holds a null value.
type NormalizationError struct {
	Column string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize column %q: %s", e.Column, e.Reason)
}
