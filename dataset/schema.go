package dataset

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Pool is the Go memory allocator used by Arrow.
var Pool = memory.NewGoAllocator()

// TimeType is the Arrow type used for every inferred date or date/time column.
var TimeType = arrow.FixedWidthTypes.Timestamp_s

// Kind is the logical kind of a column or value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindTime
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindTime:
		return "temporal"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Numeric reports whether values of kind k can be compared as numbers.
func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

// KindOf maps an Arrow data type onto a logical kind. Types without a
// dedicated kind are treated as strings.
func KindOf(dt arrow.DataType) Kind {
	switch dt.ID() {
	case arrow.NULL:
		return KindNull
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return KindInt
	case arrow.FLOAT32, arrow.FLOAT64:
		return KindFloat
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return KindTime
	default:
		return KindString
	}
}
