package dataset

import "fmt"

// LoadError reports an input file that could not be read or whose header
// is malformed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SchemaError reports a referenced column that does not exist in a table.
type SchemaError struct {
	Table  string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %q has no column %q", e.Table, e.Column)
}
