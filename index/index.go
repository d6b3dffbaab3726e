// Package index provides the row-set indexes the hash join builds over its
// build side. Keys are opaque byte strings; values are row ordinals.
package index

import (
	"fmt"
	"sync"

	roaring "github.com/RoaringBitmap/roaring"
	bloom "github.com/bits-and-blooms/bloom/v3"
	murmur3 "github.com/spaolacci/murmur3"
)

// ---------------------------------------------------------------------
// Strategy: Defines which indexing strategy to use
// ---------------------------------------------------------------------

type Strategy int

const (
	RoaringBitmap Strategy = iota
	HashIndex
	Bloom
)

func (s Strategy) String() string {
	switch s {
	case RoaringBitmap:
		return "roaring"
	case HashIndex:
		return "hash"
	case Bloom:
		return "bloom"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration name onto a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "roaring":
		return RoaringBitmap, nil
	case "hash":
		return HashIndex, nil
	case "bloom":
		return Bloom, nil
	default:
		return 0, fmt.Errorf("unsupported index strategy: %q", name)
	}
}

// ---------------------------------------------------------------------
// Index: The universal interface for all index implementations
// ---------------------------------------------------------------------

type Index interface {
	// Add records rowID under key.
	Add(rowID uint32, key string) error
	// Search returns the rowIDs stored under key in ascending order.
	Search(key string) ([]uint32, error)
	// Len returns the number of distinct keys.
	Len() int
	// Clear removes all entries.
	Clear() error
}

type IndexSettings struct {
	// BloomFilterFPRate is the desired false-positive rate for the Bloom filter
	BloomFilterFPRate float64
	// ExpectedKeys sizes hash maps and the Bloom filter
	ExpectedKeys int
}

// New instantiates an empty index of the given strategy.
func New(strategy Strategy, settings IndexSettings) (Index, error) {
	switch strategy {
	case RoaringBitmap:
		return NewRoaringIndex(settings.ExpectedKeys), nil
	case HashIndex:
		return NewHashIndex(settings.ExpectedKeys), nil
	case Bloom:
		return NewBloomIndex(settings.ExpectedKeys, settings.BloomFilterFPRate), nil
	default:
		return nil, fmt.Errorf("unsupported index strategy: %v", strategy)
	}
}

// ---------------------------------------------------------------------
// Partitioned: one index per partition, keys routed by murmur3
// ---------------------------------------------------------------------

// Partitioned splits a key space over independent indexes so that each can
// be built by a different worker.
type Partitioned struct {
	parts []Index
}

// NewPartitioned creates n empty indexes of the given strategy.
func NewPartitioned(n int, strategy Strategy, settings IndexSettings) (*Partitioned, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", n)
	}
	per := settings
	per.ExpectedKeys = settings.ExpectedKeys/n + 1
	p := &Partitioned{parts: make([]Index, n)}
	for i := range p.parts {
		idx, err := New(strategy, per)
		if err != nil {
			return nil, err
		}
		p.parts[i] = idx
	}
	return p, nil
}

// PartitionOf routes key to one of n partitions.
func PartitionOf(key string, n int) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(n))
}

func (p *Partitioned) NumPartitions() int { return len(p.parts) }

// Part returns the index owning partition i.
func (p *Partitioned) Part(i int) Index { return p.parts[i] }

// Search looks key up in the partition that owns it.
func (p *Partitioned) Search(key string) ([]uint32, error) {
	return p.parts[PartitionOf(key, len(p.parts))].Search(key)
}

// Len returns the number of distinct keys over all partitions.
func (p *Partitioned) Len() int {
	n := 0
	for _, idx := range p.parts {
		n += idx.Len()
	}
	return n
}

// ---------------------------------------------------------------------
// 1) Roaring Bitmap Index
//
//    Maps each distinct key -> roaring.Bitmap of rowIDs.
// ---------------------------------------------------------------------

type roaringIndex struct {
	mu     sync.RWMutex
	size   int
	values map[string]*roaring.Bitmap
}

// NewRoaringIndex constructs a new Index backed by one Roaring bitmap per key
func NewRoaringIndex(sizeHint int) Index {
	return &roaringIndex{
		size:   sizeHint,
		values: make(map[string]*roaring.Bitmap, sizeHint),
	}
}

func (r *roaringIndex) Add(rowID uint32, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm, ok := r.values[key]
	if !ok {
		bm = roaring.New()
		r.values[key] = bm
	}
	bm.Add(rowID)
	return nil
}

func (r *roaringIndex) Search(key string) ([]uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm, ok := r.values[key]
	if !ok || bm == nil {
		return nil, nil
	}
	return bm.ToArray(), nil
}

func (r *roaringIndex) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}

func (r *roaringIndex) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values = make(map[string]*roaring.Bitmap, r.size)
	return nil
}

// ---------------------------------------------------------------------
// 2) Hash Index
//
//    Uses Murmur3 to hash each key into a bucket, and within each bucket
//    stores key -> Roaring bitmap of rowIDs.
// ---------------------------------------------------------------------

type hashIndex struct {
	mu      sync.RWMutex
	size    int
	keys    int
	buckets map[uint64]map[string]*roaring.Bitmap // hash -> map[key] -> bitmap
}

// NewHashIndex constructs a new HashIndex
func NewHashIndex(sizeHint int) Index {
	return &hashIndex{
		size:    sizeHint,
		buckets: make(map[uint64]map[string]*roaring.Bitmap, sizeHint),
	}
}

func (h *hashIndex) Add(rowID uint32, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	hk := murmur3.Sum64([]byte(key))

	submap, ok := h.buckets[hk]
	if !ok {
		submap = make(map[string]*roaring.Bitmap, 1)
		h.buckets[hk] = submap
	}
	bm, ok := submap[key]
	if !ok {
		bm = roaring.New()
		submap[key] = bm
		h.keys++
	}
	bm.Add(rowID)
	return nil
}

func (h *hashIndex) Search(key string) ([]uint32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	submap, ok := h.buckets[murmur3.Sum64([]byte(key))]
	if !ok {
		return nil, nil
	}
	bm, ok := submap[key]
	if !ok || bm == nil {
		return nil, nil
	}
	return bm.ToArray(), nil
}

func (h *hashIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.keys
}

func (h *hashIndex) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buckets = make(map[uint64]map[string]*roaring.Bitmap, h.size)
	h.keys = 0
	return nil
}

// ---------------------------------------------------------------------
// 3) Bloom Filter Index
//
//    A Bloom filter answers "possibly present" or "definitely not". Probes
//    that miss the filter never touch the key map, which pays off when most
//    probe keys have no partner on the build side.
// ---------------------------------------------------------------------

type bloomIndex struct {
	mu       sync.RWMutex
	capacity int
	fpRate   float64
	filter   *bloom.BloomFilter
	values   map[string]*roaring.Bitmap
}

// NewBloomIndex sizes the filter for capacity keys at the given
// false-positive rate.
func NewBloomIndex(capacity int, fpRate float64) Index {
	if capacity <= 0 {
		capacity = 1024
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &bloomIndex{
		capacity: capacity,
		fpRate:   fpRate,
		filter:   bloom.NewWithEstimates(uint(capacity), fpRate),
		values:   make(map[string]*roaring.Bitmap, capacity),
	}
}

func (b *bloomIndex) Add(rowID uint32, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter.AddString(key)

	bm, ok := b.values[key]
	if !ok {
		bm = roaring.New()
		b.values[key] = bm
	}
	bm.Add(rowID)
	return nil
}

func (b *bloomIndex) Search(key string) ([]uint32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.filter.TestString(key) {
		return nil, nil
	}
	bm, ok := b.values[key]
	if !ok || bm == nil {
		return nil, nil
	}
	return bm.ToArray(), nil
}

func (b *bloomIndex) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

func (b *bloomIndex) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filter = bloom.NewWithEstimates(uint(b.capacity), b.fpRate)
	b.values = make(map[string]*roaring.Bitmap, b.capacity)
	return nil
}
