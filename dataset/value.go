package dataset

import (
	"cmp"
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Value is a single cell lifted out of an Arrow column. Temporal values are
// held as Unix seconds in Int.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
}

// Null is the null value.
var Null = Value{Kind: KindNull}

func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }
func TimeValue(t time.Time) Value { return Value{Kind: KindTime, Int: t.Unix()} }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Number returns v as a float64 for numeric kinds.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Time returns v as a UTC time for temporal values.
func (v Value) Time() time.Time {
	return time.Unix(v.Int, 0).UTC()
}

// String renders v the way it appears in reports. Dates at midnight are
// rendered without a clock component.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindTime:
		t := v.Time()
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	default:
		return v.Str
	}
}

// Compare orders values: nulls first, then numbers by value, then times,
// then strings. Values of unrelated kinds order by kind.
func Compare(a, b Value) int {
	if a.Kind.Numeric() && b.Kind.Numeric() {
		if a.Kind == KindInt && b.Kind == KindInt {
			return cmp.Compare(a.Int, b.Int)
		}
		x, _ := a.Number()
		y, _ := b.Number()
		return cmp.Compare(x, y)
	}
	if a.Kind != b.Kind {
		return cmp.Compare(a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindTime:
		return cmp.Compare(a.Int, b.Int)
	case KindString:
		return cmp.Compare(a.Str, b.Str)
	default:
		return 0
	}
}

// ValueAt extracts row i of arr.
func ValueAt(arr arrow.Array, i int) Value {
	if arr.IsNull(i) {
		return Null
	}
	switch a := arr.(type) {
	case *array.Int64:
		return IntValue(a.Value(i))
	case *array.Int32:
		return IntValue(int64(a.Value(i)))
	case *array.Int16:
		return IntValue(int64(a.Value(i)))
	case *array.Int8:
		return IntValue(int64(a.Value(i)))
	case *array.Uint32:
		return IntValue(int64(a.Value(i)))
	case *array.Uint16:
		return IntValue(int64(a.Value(i)))
	case *array.Uint8:
		return IntValue(int64(a.Value(i)))
	case *array.Uint64:
		if u := a.Value(i); u <= math.MaxInt64 {
			return IntValue(int64(u))
		}
		return FloatValue(float64(a.Value(i)))
	case *array.Float64:
		return FloatValue(a.Value(i))
	case *array.Float32:
		return FloatValue(float64(a.Value(i)))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return TimeValue(a.Value(i).ToTime(unit))
	case *array.Date32:
		return TimeValue(a.Value(i).ToTime())
	case *array.Date64:
		return TimeValue(a.Value(i).ToTime())
	case *array.String:
		return StringValue(a.Value(i))
	case *array.LargeString:
		return StringValue(a.Value(i))
	default:
		return StringValue(arr.ValueStr(i))
	}
}
