package query

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/TFMV/blotter/dataset"
	"go.uber.org/zap"
)

// Bucket is one group of a grouped count.
type Bucket struct {
	Key   dataset.Value
	Count int64
	// first is the row ordinal at which Key was first seen.
	first int64
}

// Counts maps the distinct values of one column to their row counts.
// Buckets are kept in first-encountered order.
type Counts struct {
	Column  string
	buckets []Bucket
	index   map[dataset.Value]int
}

// FromBuckets builds Counts from buckets listed in first-encountered order.
// Buckets repeating a key are merged.
func FromBuckets(column string, buckets []Bucket) *Counts {
	c := &Counts{Column: column, index: make(map[dataset.Value]int, len(buckets))}
	for i, b := range buckets {
		c.add(b.Key, b.Count, int64(i))
	}
	return c
}

func (c *Counts) add(key dataset.Value, n, first int64) {
	if i, ok := c.index[key]; ok {
		c.buckets[i].Count += n
		c.buckets[i].first = min(c.buckets[i].first, first)
		return
	}
	c.index[key] = len(c.buckets)
	c.buckets = append(c.buckets, Bucket{Key: key, Count: n, first: first})
}

// Len returns the number of distinct keys.
func (c *Counts) Len() int { return len(c.buckets) }

// Total returns the sum of all counts.
func (c *Counts) Total() int64 {
	var n int64
	for _, b := range c.buckets {
		n += b.Count
	}
	return n
}

// Get returns the count of key.
func (c *Counts) Get(key dataset.Value) (int64, bool) {
	i, ok := c.index[key]
	if !ok {
		return 0, false
	}
	return c.buckets[i].Count, true
}

// Buckets returns the groups in first-encountered order.
func (c *Counts) Buckets() []Bucket {
	return slices.Clone(c.buckets)
}

// ByKey returns the groups ordered by key, nulls first.
func (c *Counts) ByKey() []Bucket {
	out := slices.Clone(c.buckets)
	slices.SortStableFunc(out, func(a, b Bucket) int {
		return dataset.Compare(a.Key, b.Key)
	})
	return out
}

// ByCount returns the groups ordered by count. Equal counts keep
// first-encountered order.
func (c *Counts) ByCount(desc bool) []Bucket {
	out := slices.Clone(c.buckets)
	slices.SortStableFunc(out, func(a, b Bucket) int {
		if desc {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Count, b.Count)
	})
	return out
}

// GroupCount counts the rows of t per distinct value of column. Null values
// form their own group, so the counts always sum to t.NumRows().
//
// Every batch is counted by its own task and the partial counts are then
// reduced by addition, which keeps the result independent of scheduling.
func (e *Engine) GroupCount(ctx context.Context, t *dataset.Table, column string) (*Counts, error) {
	start := time.Now()
	col, err := t.ColumnIndex(column)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := t.Records()
	partials := make([]*Counts, len(records))
	_ = e.pool.Run(len(records), func(b int) error {
		partials[b] = countBatch(t, b, col, column)
		return nil
	})

	out := mergeCounts(column, partials)
	aggregateLatency.WithLabelValues(column).Observe(time.Since(start).Seconds())
	e.logger.Debug("group count finished",
		zap.String("column", column),
		zap.Int("groups", out.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func countBatch(t *dataset.Table, b, col int, column string) *Counts {
	rec := t.Records()[b]
	arr := rec.Column(col)
	base := t.Offset(b)
	c := &Counts{Column: column, index: make(map[dataset.Value]int)}
	for i := 0; i < int(rec.NumRows()); i++ {
		c.add(dataset.ValueAt(arr, i), 1, base+int64(i))
	}
	return c
}

// mergeCounts reduces partial counts; the merge is commutative.
func mergeCounts(column string, partials []*Counts) *Counts {
	out := &Counts{Column: column, index: make(map[dataset.Value]int)}
	for _, p := range partials {
		for _, b := range p.buckets {
			out.add(b.Key, b.Count, b.first)
		}
	}
	slices.SortFunc(out.buckets, func(a, b Bucket) int {
		return cmp.Compare(a.first, b.first)
	})
	for i, b := range out.buckets {
		out.index[b.Key] = i
	}
	return out
}

// TopN returns the n groups with the largest counts in descending order.
// Ties go to the key encountered first.
func TopN(c *Counts, n int) []Bucket {
	if n <= 0 {
		return nil
	}
	out := c.ByCount(true)
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// Threshold keeps the groups whose count is strictly greater than t.
func Threshold(c *Counts, t int64) *Counts {
	out := &Counts{Column: c.Column, index: make(map[dataset.Value]int)}
	for _, b := range c.buckets {
		if b.Count > t {
			out.add(b.Key, b.Count, b.first)
		}
	}
	return out
}
