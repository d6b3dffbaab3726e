package query

import (
	"encoding/binary"
	"math"

	"github.com/TFMV/blotter/dataset"
)

// keyEncoding fixes how one component of the composite key is written so
// that equal values on both sides produce identical bytes.
type keyEncoding byte

const (
	encInt    keyEncoding = 'i'
	encFloat  keyEncoding = 'f'
	encTime   keyEncoding = 't'
	encString keyEncoding = 's'
)

// encodingFor picks a shared encoding for a key component whose left and
// right columns have the given kinds. Integers on both sides compare
// exactly; an integer against a float compares by numeric value.
func encodingFor(left, right dataset.Kind) (keyEncoding, bool) {
	switch {
	case left == dataset.KindInt && right == dataset.KindInt:
		return encInt, true
	case left.Numeric() && right.Numeric():
		return encFloat, true
	case left == dataset.KindTime && right == dataset.KindTime:
		return encTime, true
	case left == dataset.KindString && right == dataset.KindString:
		return encString, true
	default:
		return 0, false
	}
}

// appendKeyPart appends v under enc. It reports false for null values,
// which never take part in a match.
func appendKeyPart(buf []byte, enc keyEncoding, v dataset.Value) ([]byte, bool) {
	if v.IsNull() {
		return buf, false
	}
	buf = append(buf, byte(enc))
	switch enc {
	case encInt, encTime:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Int))
	case encFloat:
		f, _ := v.Number()
		if f == 0 {
			f = 0 // fold -0
		}
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
	case encString:
		buf = binary.AppendUvarint(buf, uint64(len(v.Str)))
		buf = append(buf, v.Str...)
	}
	return buf, true
}

// extractKeys encodes the composite key of every row of t. Rows with a
// null component get the empty key, which never matches.
func (e *Engine) extractKeys(t *dataset.Table, cols []int, encs []keyEncoding) []string {
	keys := make([]string, t.NumRows())
	records := t.Records()
	_ = e.pool.Run(len(records), func(b int) error {
		rec := records[b]
		base := t.Offset(b)
		var buf []byte
		for i := 0; i < int(rec.NumRows()); i++ {
			buf = buf[:0]
			ok := true
			for p, col := range cols {
				buf, ok = appendKeyPart(buf, encs[p], dataset.ValueAt(rec.Column(col), i))
				if !ok {
					break
				}
			}
			if ok {
				keys[base+int64(i)] = string(buf)
			}
		}
		return nil
	})
	return keys
}
