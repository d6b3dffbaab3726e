package query_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func bucketsOf(pairs ...any) []query.Bucket {
	var out []query.Bucket
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, query.Bucket{
			Key:   dataset.StringValue(pairs[i].(string)),
			Count: int64(pairs[i+1].(int)),
		})
	}
	return out
}

func keysOf(buckets []query.Bucket) []string {
	out := make([]string, len(buckets))
	for i, b := range buckets {
		out[i] = b.Key.String()
	}
	return out
}

func TestThreshold(t *testing.T) {
	c := query.FromBuckets("Crm Cd Desc", bucketsOf("A", 1200, "B", 500, "C", 1001))
	got := query.Threshold(c, 1000)

	assert.Equal(t, bucketsOf("A", 1200, "C", 1001), stripFirst(got.Buckets()))
	_, ok := got.Get(dataset.StringValue("B"))
	assert.False(t, ok)

	// Strictly greater than.
	assert.Equal(t, 1, query.Threshold(c, 1001).Len())
}

// stripFirst rebuilds buckets so they compare equal to literals.
func stripFirst(in []query.Bucket) []query.Bucket {
	out := make([]query.Bucket, len(in))
	for i, b := range in {
		out[i] = query.Bucket{Key: b.Key, Count: b.Count}
	}
	return out
}

func TestTopN(t *testing.T) {
	c := query.FromBuckets("area", bucketsOf("A", 3, "B", 5, "C", 5, "D", 1))

	assert.Equal(t, []string{"B", "C"}, keysOf(query.TopN(c, 2)))
	assert.Equal(t, []string{"B", "C", "A", "D"}, keysOf(query.TopN(c, 10)))
	assert.Empty(t, query.TopN(c, 0))
	assert.Empty(t, query.TopN(c, -1))
}

func TestCountsOrderings(t *testing.T) {
	c := query.FromBuckets("area", bucketsOf("b", 2, "a", 2, "c", 1, "b", 1))

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(6), c.Total())
	n, ok := c.Get(dataset.StringValue("b"))
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	assert.Equal(t, []string{"b", "a", "c"}, keysOf(c.Buckets()))
	assert.Equal(t, []string{"a", "b", "c"}, keysOf(c.ByKey()))
	assert.Equal(t, []string{"c", "a", "b"}, keysOf(c.ByCount(false)))
	assert.Equal(t, []string{"b", "a", "c"}, keysOf(c.ByCount(true)))
}

func TestGroupCount(t *testing.T) {
	tbl := loadCSV(t, "correlated", "area,n\nWest,1\nEast,2\n,3\nWest,4\nEast,5\nWest,6\n")
	defer tbl.Release()

	e := newEngine(3, "auto")
	defer e.Close()

	c, err := e.GroupCount(context.Background(), tbl, "area")
	require.NoError(t, err)

	assert.Equal(t, "area", c.Column)
	assert.Equal(t, tbl.NumRows(), c.Total())
	assert.Equal(t, []string{"West", "East", ""}, keysOf(c.Buckets()))
	west, _ := c.Get(dataset.StringValue("West"))
	assert.Equal(t, int64(3), west)
	null, ok := c.Get(dataset.Null)
	assert.True(t, ok)
	assert.Equal(t, int64(1), null)

	_, err = e.GroupCount(context.Background(), tbl, "missing")
	var se *dataset.SchemaError
	assert.ErrorAs(t, err, &se)
}

func TestGroupCountSumsToRows(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.SampledFrom([]string{"", "a", "b", "c", "d"}), 1, 60).Draw(t, "values")
		workers := rapid.IntRange(1, 6).Draw(t, "workers")

		var sb strings.Builder
		sb.WriteString("v,ord\n")
		for i, v := range values {
			fmt.Fprintf(&sb, "%s,%d\n", v, i)
		}
		tbl := loadCSV(t, "t", sb.String())
		defer tbl.Release()

		e := newEngine(workers, "auto")
		defer e.Close()
		c, err := e.GroupCount(context.Background(), tbl, "v")
		require.NoError(t, err)
		assert.Equal(t, int64(len(values)), c.Total())

		want := map[string]int64{}
		var order []string
		for _, v := range values {
			if _, ok := want[v]; !ok {
				order = append(order, v)
			}
			want[v]++
		}
		assert.Equal(t, order, keysOf(c.Buckets()))
		top := query.TopN(c, len(order)+1)
		assert.Len(t, top, len(order))
		for i := 1; i < len(top); i++ {
			assert.GreaterOrEqual(t, top[i-1].Count, top[i].Count)
		}
		for _, b := range c.Buckets() {
			assert.Equal(t, want[b.Key.String()], b.Count)
		}
	})
}
