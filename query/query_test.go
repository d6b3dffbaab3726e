package query_test

import (
	"strings"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/stretchr/testify/require"
)

// loadCSV parses body into a table with small batches so that every test
// crosses batch boundaries.
func loadCSV(t require.TestingT, name, body string) *dataset.Table {
	tbl, err := dataset.Load(name, strings.NewReader(body), dataset.LoadOptions{BatchSize: 2})
	require.NoError(t, err)
	return tbl
}

func newEngine(workers int, strategy string) *query.Engine {
	return query.NewEngine(query.EngineOptions{
		Workers:   workers,
		BatchSize: 3,
		Index:     strategy,
	})
}

// column reads every value of the named column in row order.
func column(t require.TestingT, tbl *dataset.Table, name string) []dataset.Value {
	col, err := tbl.ColumnIndex(name)
	require.NoError(t, err)
	out := make([]dataset.Value, 0, tbl.NumRows())
	for r := int64(0); r < tbl.NumRows(); r++ {
		out = append(out, tbl.Value(r, col))
	}
	return out
}
