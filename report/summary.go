package report

import (
	"fmt"
	"os"

	"github.com/TFMV/blotter/dataset"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// statLabels are the rows of a gota Describe frame.
var statLabels = []string{"mean", "median", "stddev", "min", "25%", "50%", "75%", "max"}

// Describe computes describe-style statistics for every numeric column of
// t. Nulls are left out of each column's statistics; a column without any
// value yields NaN statistics.
func Describe(t *dataset.Table) dataframe.DataFrame {
	cols := []series.Series{series.New(statLabels, series.String, "column")}
	for i, f := range t.Schema().Fields() {
		if !dataset.KindOf(f.Type).Numeric() {
			continue
		}
		values := make([]float64, 0, t.NumRows())
		for r := int64(0); r < t.NumRows(); r++ {
			if v, ok := t.Value(r, i).Number(); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			cols = append(cols, series.New(make([]string, len(statLabels)), series.Float, f.Name))
			continue
		}
		described := dataframe.New(series.New(values, series.Float, f.Name)).Describe()
		cols = append(cols, described.Col(f.Name))
	}
	return dataframe.New(cols...)
}

// WriteSummary writes Describe(t) as CSV to path.
func WriteSummary(path string, t *dataset.Table) error {
	df := Describe(t)
	if df.Err != nil {
		return fmt.Errorf("summary: %w", df.Err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("summary: create %q: %w", path, err)
	}
	if err := df.WriteCSV(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("summary: write %q: %w", path, err)
	}
	return f.Close()
}
