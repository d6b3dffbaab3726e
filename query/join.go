package query

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/index"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"
)

// CorrelatedTable is the name given to join results.
const CorrelatedTable = "correlated"

// pair holds the row ordinals of one matching left and right row.
type pair struct {
	left, right uint32
}

func comparePairs(a, b pair) int {
	if c := cmp.Compare(a.left, b.left); c != 0 {
		return c
	}
	return cmp.Compare(a.right, b.right)
}

// Join computes the inner equality join of left and right and projects it
// onto spec.Output.
//
// Every pair of rows whose key components are all equal yields one output
// row, so duplicate keys produce a cross product. Null key components never
// match. Output rows are ordered by left row, then right row, whatever the
// build side, partition count or scheduling.
func (e *Engine) Join(ctx context.Context, left, right *dataset.Table, spec JoinSpec) (*dataset.Table, error) {
	start := time.Now()

	plan, err := e.planner.PlanJoin(left, right, spec)
	if err != nil {
		return nil, err
	}
	if left.NumRows() > math.MaxUint32 || right.NumRows() > math.MaxUint32 {
		return nil, fmt.Errorf("join input exceeds %d rows", uint32(math.MaxUint32))
	}
	e.logger.Debug("join planned",
		zap.String("build_side", plan.BuildSide.String()),
		zap.String("index", plan.Strategy.String()),
		zap.Int("partitions", plan.Partitions))

	leftKeys := e.extractKeys(left, plan.leftKeys, plan.encodings)
	rightKeys := e.extractKeys(right, plan.rightKeys, plan.encodings)
	buildKeys, probeKeys := leftKeys, rightKeys
	if plan.BuildSide == Right {
		buildKeys, probeKeys = rightKeys, leftKeys
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// build returns only once every partition is complete.
	idx, err := e.build(buildKeys, plan)
	if err != nil {
		return nil, fmt.Errorf("build join index: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pairs, err := e.probe(idx, probeKeys, plan.BuildSide)
	if err != nil {
		return nil, fmt.Errorf("probe join index: %w", err)
	}
	slices.SortFunc(pairs, comparePairs)

	out, err := e.materialize(left, right, plan, pairs)
	if err != nil {
		return nil, err
	}

	joinLatency.Observe(time.Since(start).Seconds())
	joinedRows.Add(float64(out.NumRows()))
	e.logger.Info("join finished",
		zap.Int64("left_rows", left.NumRows()),
		zap.Int64("right_rows", right.NumRows()),
		zap.Int("distinct_keys", idx.Len()),
		zap.Int64("rows", out.NumRows()),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (e *Engine) build(keys []string, plan *Plan) (*index.Partitioned, error) {
	idx, err := index.NewPartitioned(plan.Partitions, plan.Strategy, index.IndexSettings{
		BloomFilterFPRate: e.fpRate,
		ExpectedKeys:      len(keys),
	})
	if err != nil {
		return nil, err
	}

	rows := make([][]uint32, plan.Partitions)
	for r, k := range keys {
		if k == "" {
			continue
		}
		p := index.PartitionOf(k, plan.Partitions)
		rows[p] = append(rows[p], uint32(r))
	}

	// Each partition is owned by exactly one task.
	err = e.pool.Run(plan.Partitions, func(p int) error {
		part := idx.Part(p)
		for _, r := range rows[p] {
			if err := part.Add(r, keys[r]); err != nil {
				return err
			}
		}
		return nil
	})
	return idx, err
}

func (e *Engine) probe(idx *index.Partitioned, keys []string, build Side) ([]pair, error) {
	n := chunks(len(keys), e.batchSize)
	found := make([][]pair, n)
	err := e.pool.Run(n, func(c int) error {
		lo := c * e.batchSize
		hi := min(lo+e.batchSize, len(keys))
		var local []pair
		for r := lo; r < hi; r++ {
			if keys[r] == "" {
				continue
			}
			matches, err := idx.Search(keys[r])
			if err != nil {
				return err
			}
			for _, m := range matches {
				if build == Left {
					local = append(local, pair{left: m, right: uint32(r)})
				} else {
					local = append(local, pair{left: uint32(r), right: m})
				}
			}
		}
		found[c] = local
		return nil
	})
	if err != nil {
		return nil, err
	}

	total := 0
	for _, f := range found {
		total += len(f)
	}
	pairs := make([]pair, 0, total)
	for _, f := range found {
		pairs = append(pairs, f...)
	}
	return pairs, nil
}

func (e *Engine) materialize(left, right *dataset.Table, plan *Plan, pairs []pair) (*dataset.Table, error) {
	fields := make([]arrow.Field, len(plan.output))
	for j, ref := range plan.output {
		fields[j] = ref.field
	}
	schema := arrow.NewSchema(fields, nil)

	n := chunks(len(pairs), e.batchSize)
	records := make([]arrow.Record, n)
	err := e.pool.Run(n, func(c int) error {
		lo := c * e.batchSize
		hi := min(lo+e.batchSize, len(pairs))

		builder := array.NewRecordBuilder(e.mem, schema)
		defer builder.Release()
		for _, p := range pairs[lo:hi] {
			lb, li := left.Locate(int64(p.left))
			rb, ri := right.Locate(int64(p.right))
			for j, ref := range plan.output {
				arr, i := left.Records()[lb].Column(ref.col), li
				if ref.side == Right {
					arr, i = right.Records()[rb].Column(ref.col), ri
				}
				if err := appendValue(builder.Field(j), arr, i); err != nil {
					return fmt.Errorf("copy column %q: %w", ref.field.Name, err)
				}
			}
		}
		records[c] = builder.NewRecord()
		return nil
	})
	if err != nil {
		for _, rec := range records {
			if rec != nil {
				rec.Release()
			}
		}
		return nil, err
	}
	return dataset.NewTable(CorrelatedTable, schema, records), nil
}

// appendValue copies row i of arr onto b. Both share one data type.
func appendValue(b array.Builder, arr arrow.Array, i int) error {
	if arr.IsNull(i) {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		bb.Append(arr.(*array.Int64).Value(i))
	case *array.Float64Builder:
		bb.Append(arr.(*array.Float64).Value(i))
	case *array.TimestampBuilder:
		bb.Append(arr.(*array.Timestamp).Value(i))
	case *array.StringBuilder:
		bb.Append(arr.(*array.String).Value(i))
	default:
		return b.AppendValueFromString(arr.ValueStr(i))
	}
	return nil
}
