package query

import (
	"context"
	"math"
	"time"

	"github.com/TFMV/blotter/dataset"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"
)

// ScaledPrefix is prepended to a feature column's name in scaled output.
const ScaledPrefix = "scaled_"

// Scaler holds per-feature min-max parameters fitted over a whole table.
type Scaler struct {
	Columns []string
	Min     []float64
	Max     []float64
}

// Scale maps v of feature i into [0, 1]. A feature whose observed range is
// empty scales to 0.
func (s *Scaler) Scale(i int, v float64) float64 {
	span := s.Max[i] - s.Min[i]
	if span == 0 {
		return 0
	}
	if math.IsInf(span, 0) {
		// The range exceeds MaxFloat64; halve every operand.
		return (v/2 - s.Min[i]/2) / (s.Max[i]/2 - s.Min[i]/2)
	}
	return (v - s.Min[i]) / span
}

// Vector scales one raw feature vector.
func (s *Scaler) Vector(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = s.Scale(i, v)
	}
	return out
}

// featureColumns resolves cols to positions and checks they are numeric.
func featureColumns(t *dataset.Table, cols []string) ([]int, error) {
	if len(cols) == 0 {
		return nil, &NormalizationError{Reason: "no feature columns"}
	}
	idx := make([]int, len(cols))
	for i, name := range cols {
		f, err := t.Field(name)
		if err != nil {
			return nil, &NormalizationError{Column: name, Reason: "absent from " + t.Name()}
		}
		if k := dataset.KindOf(f.Type); !k.Numeric() {
			return nil, &NormalizationError{Column: name, Reason: "not numeric (" + k.String() + ")"}
		}
		idx[i], _ = t.ColumnIndex(name)
	}
	return idx, nil
}

// Fit computes the minimum and maximum of every feature column over all of
// t. A null feature value is an error.
func (e *Engine) Fit(ctx context.Context, t *dataset.Table, cols []string) (*Scaler, error) {
	idx, err := featureColumns(t, cols)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := t.Records()
	partials := make([]*Scaler, len(records))
	err = e.pool.Run(len(records), func(b int) error {
		s, err := fitBatch(records[b], idx, cols)
		partials[b] = s
		return err
	})
	if err != nil {
		return nil, err
	}

	s := &Scaler{
		Columns: append([]string(nil), cols...),
		Min:     make([]float64, len(cols)),
		Max:     make([]float64, len(cols)),
	}
	seen := false
	for _, p := range partials {
		if p == nil {
			continue
		}
		for i := range cols {
			if !seen {
				s.Min[i], s.Max[i] = p.Min[i], p.Max[i]
				continue
			}
			s.Min[i] = math.Min(s.Min[i], p.Min[i])
			s.Max[i] = math.Max(s.Max[i], p.Max[i])
		}
		seen = true
	}
	return s, nil
}

// fitBatch returns nil for an empty batch.
func fitBatch(rec arrow.Record, idx []int, cols []string) (*Scaler, error) {
	if rec.NumRows() == 0 {
		return nil, nil
	}
	s := &Scaler{
		Min: make([]float64, len(idx)),
		Max: make([]float64, len(idx)),
	}
	for i, col := range idx {
		arr := rec.Column(col)
		for r := 0; r < arr.Len(); r++ {
			v, ok := dataset.ValueAt(arr, r).Number()
			if !ok {
				return nil, &NormalizationError{Column: cols[i], Reason: "null feature value"}
			}
			if r == 0 {
				s.Min[i], s.Max[i] = v, v
				continue
			}
			s.Min[i] = math.Min(s.Min[i], v)
			s.Max[i] = math.Max(s.Max[i], v)
		}
	}
	return s, nil
}

// Transform scales the feature columns of t with s. The result holds one
// float64 column per feature, named with ScaledPrefix, and one row per row
// of t.
func (e *Engine) Transform(ctx context.Context, t *dataset.Table, s *Scaler) (*dataset.Table, error) {
	idx, err := featureColumns(t, s.Columns)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := make([]arrow.Field, len(s.Columns))
	for i, name := range s.Columns {
		fields[i] = arrow.Field{Name: ScaledPrefix + name, Type: arrow.PrimitiveTypes.Float64}
	}
	schema := arrow.NewSchema(fields, nil)

	records := t.Records()
	out := make([]arrow.Record, len(records))
	err = e.pool.Run(len(records), func(b int) error {
		rec := records[b]
		builder := array.NewRecordBuilder(e.mem, schema)
		defer builder.Release()
		for i, col := range idx {
			arr := rec.Column(col)
			fb := builder.Field(i).(*array.Float64Builder)
			fb.Reserve(arr.Len())
			for r := 0; r < arr.Len(); r++ {
				v, ok := dataset.ValueAt(arr, r).Number()
				if !ok {
					return &NormalizationError{Column: s.Columns[i], Reason: "null feature value"}
				}
				fb.UnsafeAppend(s.Scale(i, v))
			}
		}
		out[b] = builder.NewRecord()
		return nil
	})
	if err != nil {
		for _, rec := range out {
			if rec != nil {
				rec.Release()
			}
		}
		return nil, err
	}
	return dataset.NewTable("scaled", schema, out), nil
}

// Normalize fits a Scaler over t and applies it.
func (e *Engine) Normalize(ctx context.Context, t *dataset.Table, cols []string) (*dataset.Table, *Scaler, error) {
	start := time.Now()
	s, err := e.Fit(ctx, t, cols)
	if err != nil {
		return nil, nil, err
	}
	out, err := e.Transform(ctx, t, s)
	if err != nil {
		return nil, nil, err
	}
	normalizeLatency.Observe(time.Since(start).Seconds())
	for i, name := range s.Columns {
		e.logger.Debug("feature range",
			zap.String("column", name),
			zap.Float64("min", s.Min[i]),
			zap.Float64("max", s.Max[i]))
	}
	return out, s, nil
}
