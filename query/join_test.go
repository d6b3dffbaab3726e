package query_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const arrestsCSV = `Area ID,Reporting District,Arrest Date,Age
1,101,2020-01-05,30
1,102,2020-01-05,41
7,,2020-01-06,19
`

const crimesCSV = `AREA,Rpt Dist No,DATE OCC,Crm Cd Desc,Vict Age,AREA NAME
1,101,01/05/2020,THEFT,40,Central
1,101,01/05/2020,ASSAULT,22,Central
2,201,01/05/2020,ROBBERY,35,Rampart
7,,01/06/2020,VANDALISM,50,Foothill
`

func crimeJoin() query.JoinSpec {
	return query.JoinSpec{
		Keys: []query.KeyPair{
			{Left: "Area ID", Right: "AREA"},
			{Left: "Reporting District", Right: "Rpt Dist No"},
			{Left: "Arrest Date", Right: "DATE OCC"},
		},
		Output: []query.OutputColumn{
			{Name: "Area Name", Side: query.Right, Source: "AREA NAME"},
			{Side: query.Left, Source: "Area ID"},
			{Side: query.Right, Source: "Crm Cd Desc"},
			{Side: query.Left, Source: "Age"},
			{Side: query.Right, Source: "Vict Age"},
			{Side: query.Right, Source: "DATE OCC"},
		},
	}
}

func TestJoinOneArrestTwoCrimes(t *testing.T) {
	arrests := loadCSV(t, "arrests", arrestsCSV)
	defer arrests.Release()
	crimes := loadCSV(t, "crimes", crimesCSV)
	defer crimes.Release()

	e := newEngine(4, "auto")
	defer e.Close()

	out, err := e.Join(context.Background(), arrests, crimes, crimeJoin())
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, query.CorrelatedTable, out.Name())
	assert.Equal(t, int64(2), out.NumRows())
	assert.Equal(t,
		[]dataset.Value{dataset.StringValue("THEFT"), dataset.StringValue("ASSAULT")},
		column(t, out, "Crm Cd Desc"))
	assert.Equal(t,
		[]dataset.Value{dataset.IntValue(30), dataset.IntValue(30)},
		column(t, out, "Age"))

	names := make([]string, 0, out.NumCols())
	for _, f := range out.Schema().Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Area Name", "Area ID", "Crm Cd Desc", "Age", "Vict Age", "DATE OCC"}, names)
}

func TestJoinNullKeysNeverMatch(t *testing.T) {
	arrests := loadCSV(t, "arrests", "k,a\n,1\n,2\n3,3\n")
	defer arrests.Release()
	crimes := loadCSV(t, "crimes", "k,b\n,10\n3,30\n")
	defer crimes.Release()

	e := newEngine(2, "auto")
	defer e.Close()

	out, err := e.Join(context.Background(), arrests, crimes, query.JoinSpec{
		Keys:   []query.KeyPair{{Left: "k", Right: "k"}},
		Output: []query.OutputColumn{{Side: query.Left, Source: "a"}, {Side: query.Right, Source: "b"}},
	})
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, []dataset.Value{dataset.IntValue(3)}, column(t, out, "a"))
	assert.Equal(t, []dataset.Value{dataset.IntValue(30)}, column(t, out, "b"))
}

func TestJoinIntMatchesFloatByValue(t *testing.T) {
	left := loadCSV(t, "left", "k,a\n1,x\n2,y\n")
	defer left.Release()
	right := loadCSV(t, "right", "k,b\n2.0,z\n2.5,w\n")
	defer right.Release()

	e := newEngine(1, "hash")
	defer e.Close()

	out, err := e.Join(context.Background(), left, right, query.JoinSpec{
		Keys:   []query.KeyPair{{Left: "k", Right: "k"}},
		Output: []query.OutputColumn{{Side: query.Left, Source: "a"}, {Side: query.Right, Source: "b"}},
	})
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, []dataset.Value{dataset.StringValue("y")}, column(t, out, "a"))
}

func TestJoinErrors(t *testing.T) {
	arrests := loadCSV(t, "arrests", arrestsCSV)
	defer arrests.Release()
	crimes := loadCSV(t, "crimes", crimesCSV)
	defer crimes.Release()

	e := newEngine(2, "auto")
	defer e.Close()

	cases := map[string]query.JoinSpec{
		"missing left key": {
			Keys:   []query.KeyPair{{Left: "Area", Right: "AREA"}},
			Output: []query.OutputColumn{{Side: query.Left, Source: "Age"}},
		},
		"missing right key": {
			Keys:   []query.KeyPair{{Left: "Area ID", Right: "Area"}},
			Output: []query.OutputColumn{{Side: query.Left, Source: "Age"}},
		},
		"incompatible kinds": {
			Keys:   []query.KeyPair{{Left: "Area ID", Right: "Crm Cd Desc"}},
			Output: []query.OutputColumn{{Side: query.Left, Source: "Age"}},
		},
		"missing output column": {
			Keys:   []query.KeyPair{{Left: "Area ID", Right: "AREA"}},
			Output: []query.OutputColumn{{Side: query.Right, Source: "LAT"}},
		},
		"no keys": {
			Output: []query.OutputColumn{{Side: query.Left, Source: "Age"}},
		},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Join(context.Background(), arrests, crimes, spec)
			var je *query.JoinError
			assert.True(t, errors.As(err, &je), "got %v", err)
		})
	}
}

func TestJoinCancelled(t *testing.T) {
	arrests := loadCSV(t, "arrests", arrestsCSV)
	defer arrests.Release()
	crimes := loadCSV(t, "crimes", crimesCSV)
	defer crimes.Release()

	e := newEngine(2, "auto")
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Join(ctx, arrests, crimes, crimeJoin())
	assert.ErrorIs(t, err, context.Canceled)
}

// keyedCSV renders rows of (key, ordinal); a negative key is written as an
// empty cell.
func keyedCSV(keys []int) string {
	var sb strings.Builder
	sb.WriteString("k,ord\n")
	for i, k := range keys {
		if k >= 0 {
			fmt.Fprintf(&sb, "%d", k)
		}
		fmt.Fprintf(&sb, ",%d\n", i)
	}
	return sb.String()
}

func TestJoinMatchesNestedLoop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		leftKeys := rapid.SliceOfN(rapid.IntRange(-1, 4), 1, 30).Draw(t, "left")
		rightKeys := rapid.SliceOfN(rapid.IntRange(-1, 4), 1, 30).Draw(t, "right")
		workers := rapid.IntRange(1, 5).Draw(t, "workers")
		strategy := rapid.SampledFrom([]string{"auto", "roaring", "hash", "bloom"}).Draw(t, "index")
		// Distinct trailing keys keep both key columns typed as integers.
		leftKeys = append(leftKeys, 100)
		rightKeys = append(rightKeys, 101)

		left := loadCSV(t, "left", keyedCSV(leftKeys))
		defer left.Release()
		right := loadCSV(t, "right", keyedCSV(rightKeys))
		defer right.Release()

		e := newEngine(workers, strategy)
		defer e.Close()

		out, err := e.Join(context.Background(), left, right, query.JoinSpec{
			Keys: []query.KeyPair{{Left: "k", Right: "k"}},
			Output: []query.OutputColumn{
				{Name: "l", Side: query.Left, Source: "ord"},
				{Name: "r", Side: query.Right, Source: "ord"},
			},
		})
		require.NoError(t, err)
		defer out.Release()

		var want [][2]int64
		for i, lk := range leftKeys {
			for j, rk := range rightKeys {
				if lk >= 0 && lk == rk {
					want = append(want, [2]int64{int64(i), int64(j)})
				}
			}
		}

		ls, rs := column(t, out, "l"), column(t, out, "r")
		got := make([][2]int64, len(ls))
		for i := range ls {
			got[i] = [2]int64{ls[i].Int, rs[i].Int}
		}
		if len(want) == 0 {
			assert.Empty(t, got)
			return
		}
		assert.Equal(t, want, got)
	})
}

func BenchmarkJoin(b *testing.B) {
	for _, size := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("size_%d", size), func(b *testing.B) {
			keys := make([]int, size)
			for i := range keys {
				keys[i] = i % 100
			}
			body := keyedCSV(keys)
			left, err := dataset.Load("left", strings.NewReader(body), dataset.LoadOptions{})
			require.NoError(b, err)
			defer left.Release()
			right, err := dataset.Load("right", strings.NewReader(keyedCSV(keys[:size/10])), dataset.LoadOptions{})
			require.NoError(b, err)
			defer right.Release()

			e := query.NewEngine(query.EngineOptions{})
			defer e.Close()
			spec := query.JoinSpec{
				Keys:   []query.KeyPair{{Left: "k", Right: "k"}},
				Output: []query.OutputColumn{{Side: query.Left, Source: "ord"}},
			}

			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				out, err := e.Join(context.Background(), left, right, spec)
				if err != nil {
					b.Fatal(err)
				}
				out.Release()
			}
		})
	}
}
