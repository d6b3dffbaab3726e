package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/golang/groupcache/lru"
	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------
// Prometheus Metrics
// ---------------------------------------------------------------------

var (
	loadLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "blotter_load_latency_seconds",
		Help: "Dataset load latency distribution",
	}, []string{"table"})
	rowsLoaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "blotter_rows_loaded_total",
		Help: "Rows read from input files",
	}, []string{"table"})
)

func init() {
	prometheus.MustRegister(loadLatency, rowsLoaded)
}

// ---------------------------------------------------------------------
// Load options
// ---------------------------------------------------------------------

// LoadOptions controls how delimited files are read.
type LoadOptions struct {
	// Delimiter separates fields; 0 means ','.
	Delimiter rune
	// BatchSize is the maximum number of rows per record batch.
	BatchSize int
	// DateCacheSize bounds the LRU of parsed date strings.
	DateCacheSize int
	Allocator     memory.Allocator
}

// DefaultLoadOptions returns the options used when none are configured.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Delimiter:     ',',
		BatchSize:     64 * 1024,
		DateCacheSize: 4096,
		Allocator:     Pool,
	}
}

func (o LoadOptions) withDefaults() LoadOptions {
	def := DefaultLoadOptions()
	if o.Delimiter == 0 {
		o.Delimiter = def.Delimiter
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.DateCacheSize <= 0 {
		o.DateCacheSize = def.DateCacheSize
	}
	if o.Allocator == nil {
		o.Allocator = def.Allocator
	}
	return o
}

// timeLayouts are tried in order when inferring temporal columns.
var timeLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
}

// ---------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------

// LoadFile reads a delimited file from the local filesystem.
func LoadFile(path string, opts LoadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()
	return Load(path, f, opts)
}

// Load reads a delimited stream with a header row into a Table named after
// path, inferring every column's type from its values.
func Load(path string, r io.Reader, opts LoadOptions) (*Table, error) {
	start := time.Now()
	opts = opts.withDefaults()

	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &LoadError{Path: path, Err: errors.New("missing header row")}
		}
		return nil, &LoadError{Path: path, Err: fmt.Errorf("read header: %w", err)}
	}
	if err := checkHeader(header); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	// Cells are held column-wise until every column's type is known.
	cells := make([][]string, len(header))
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("read row: %w", err)}
		}
		if len(rec) > len(header) {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("line %d: %d fields, header has %d", line, len(rec), len(header))}
		}
		for j := range header {
			v := ""
			if j < len(rec) {
				v = strings.TrimSpace(rec[j])
			}
			cells[j] = append(cells[j], v)
		}
	}

	dates := newDateParser(opts.DateCacheSize)
	fields := make([]arrow.Field, len(header))
	for j, name := range header {
		fields[j] = arrow.Field{Name: name, Type: inferType(cells[j], dates), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	nrows := 0
	if len(cells) > 0 {
		nrows = len(cells[0])
	}
	var records []arrow.Record
	for lo := 0; lo < nrows; lo += opts.BatchSize {
		hi := min(lo+opts.BatchSize, nrows)
		records = append(records, buildBatch(opts.Allocator, schema, cells, lo, hi, dates))
	}

	table := NewTable(path, schema, records)
	loadLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	rowsLoaded.WithLabelValues(path).Add(float64(nrows))
	return table, nil
}

func checkHeader(header []string) error {
	if len(header) == 0 {
		return errors.New("empty header row")
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("header column %d is blank", i+1)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate header column %q", name)
		}
		seen[name] = struct{}{}
		header[i] = name
	}
	return nil
}

// inferType picks the narrowest type every non-empty cell parses as:
// int64, then float64, then timestamp, falling back to string.
func inferType(values []string, dates *dateParser) arrow.DataType {
	isInt, isFloat, isTime := true, true, true
	seen := false
	for _, v := range values {
		if v == "" {
			continue
		}
		seen = true
		_, intOK := parseInt(v)
		_, floatOK := parseFloat(v)
		isInt = isInt && intOK
		isFloat = isFloat && floatOK
		// No supported layout is purely numeric.
		if floatOK {
			isTime = false
		} else if isTime {
			_, isTime = dates.parse(v)
		}
		if !isInt && !isFloat && !isTime {
			break
		}
	}
	switch {
	case !seen:
		return arrow.BinaryTypes.String
	case isInt:
		return arrow.PrimitiveTypes.Int64
	case isFloat:
		return arrow.PrimitiveTypes.Float64
	case isTime:
		return TimeType
	default:
		return arrow.BinaryTypes.String
	}
}

func buildBatch(mem memory.Allocator, schema *arrow.Schema, cells [][]string, lo, hi int, dates *dateParser) arrow.Record {
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	for j := range cells {
		col := cells[j][lo:hi]
		switch b := builder.Field(j).(type) {
		case *array.Int64Builder:
			for _, v := range col {
				if n, ok := parseInt(v); ok {
					b.Append(n)
				} else {
					b.AppendNull()
				}
			}
		case *array.Float64Builder:
			for _, v := range col {
				if f, ok := parseFloat(v); ok {
					b.Append(f)
				} else {
					b.AppendNull()
				}
			}
		case *array.TimestampBuilder:
			for _, v := range col {
				if t, ok := dates.parse(v); ok {
					b.Append(arrow.Timestamp(t.Unix()))
				} else {
					b.AppendNull()
				}
			}
		case *array.StringBuilder:
			for _, v := range col {
				if v == "" {
					b.AppendNull()
				} else {
					b.Append(v)
				}
			}
		}
	}
	return builder.NewRecord()
}

func parseInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ---------------------------------------------------------------------
// Date parsing with an LRU of previously seen strings
// ---------------------------------------------------------------------

type dateParser struct {
	cache *lru.Cache
}

type dateResult struct {
	t  time.Time
	ok bool
}

func newDateParser(size int) *dateParser {
	return &dateParser{cache: lru.New(size)}
}

func (p *dateParser) parse(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if v, hit := p.cache.Get(s); hit {
		r := v.(dateResult)
		return r.t, r.ok
	}
	r := dateResult{}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			r = dateResult{t: t.UTC(), ok: true}
			break
		}
	}
	p.cache.Add(s, r)
	return r.t, r.ok
}
