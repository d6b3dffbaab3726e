package query_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNormalize(t *testing.T) {
	tbl := loadCSV(t, "correlated", "Age,LAT,name\n10,34.5,a\n20,34.5,b\n30,34.5,c\n")
	defer tbl.Release()

	e := newEngine(2, "auto")
	defer e.Close()

	out, s, err := e.Normalize(context.Background(), tbl, []string{"Age", "LAT"})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []float64{10, 34.5}, s.Min)
	assert.Equal(t, []float64{30, 34.5}, s.Max)
	assert.Equal(t, []dataset.Value{
		dataset.FloatValue(0), dataset.FloatValue(0.5), dataset.FloatValue(1),
	}, column(t, out, "scaled_Age"))
	// A constant feature scales to 0.
	assert.Equal(t, []dataset.Value{
		dataset.FloatValue(0), dataset.FloatValue(0), dataset.FloatValue(0),
	}, column(t, out, "scaled_LAT"))
	assert.Equal(t, []float64{0.5, 0}, s.Vector([]float64{20, 34.5}))
}

func TestNormalizeExtremeRange(t *testing.T) {
	tbl := loadCSV(t, "correlated", "x\n-1e308\n0\n1e308\n")
	defer tbl.Release()

	e := newEngine(2, "auto")
	defer e.Close()

	out, _, err := e.Normalize(context.Background(), tbl, []string{"x"})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []dataset.Value{
		dataset.FloatValue(0), dataset.FloatValue(0.5), dataset.FloatValue(1),
	}, column(t, out, "scaled_x"))
}

func TestNormalizeErrors(t *testing.T) {
	tbl := loadCSV(t, "correlated", "Age,Vict Age,name\n10,,a\n20,5,b\n")
	defer tbl.Release()

	e := newEngine(2, "auto")
	defer e.Close()

	for _, cols := range [][]string{{"Vict Age"}, {"name"}, {"LON"}, nil} {
		t.Run(fmt.Sprint(cols), func(t *testing.T) {
			_, _, err := e.Normalize(context.Background(), tbl, cols)
			var ne *query.NormalizationError
			assert.ErrorAs(t, err, &ne)
		})
	}
}

func TestScaledValuesInUnitRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(-math.MaxFloat64, math.MaxFloat64), 1, 40).Draw(t, "values")

		var sb strings.Builder
		sb.WriteString("x\n")
		for _, v := range values {
			fmt.Fprintf(&sb, "%g\n", v)
		}
		tbl := loadCSV(t, "t", sb.String())
		defer tbl.Release()

		e := newEngine(3, "auto")
		defer e.Close()
		out, s, err := e.Normalize(context.Background(), tbl, []string{"x"})
		require.NoError(t, err)
		defer out.Release()

		lo, hi := s.Min[0], s.Max[0]
		for r, v := range column(t, out, "scaled_x") {
			assert.GreaterOrEqual(t, v.Float, 0.0)
			assert.LessOrEqual(t, v.Float, 1.0)
			raw, _ := tbl.Value(int64(r), 0).Number()
			if hi != lo && raw == lo {
				assert.Equal(t, 0.0, v.Float)
			}
			if hi != lo && raw == hi {
				assert.Equal(t, 1.0, v.Float)
			}
		}
	})
}
