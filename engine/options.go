package engine

import (
	"github.com/marcbinz/hlkv/hlog"
	"github.com/marcbinz/hlkv/kv"
)

// Options configures a new Engine. Constructed programmatically for
// library use; cmd/hlkvd maps CLI flags and HLKV_* environment variables
// onto this struct for the demo/bench binary.
type Options[K kv.Key, V kv.Value] struct {
	// HashBucketCount is the initial number of index buckets. Must be a
	// power of two (spec.md §6).
	HashBucketCount uint64
	// LogByteCapacity bounds the resident log: PageSize * NumPages.
	// Must be a multiple of PageSize and at least 2*PageSize.
	LogByteCapacity uint64
	// PageSize is the resident page size; must be a power of two.
	PageSize uint64
	// MutableFraction is forwarded to hlog.Options.
	MutableFraction float64
	// Device backs records that have aged out below Head. nil (the
	// default) means there is no device: any operation that would need
	// one returns hlkv.CodePending and CompletePending later drops it.
	Device Device
	// DecodeKey/DecodeValue reconstruct K/V from their encoded log bytes.
	// Required - the engine has no other way to know a schema's layout.
	DecodeKey   kv.KeyDecoder[K]
	DecodeValue kv.Decoder[V]
}

func (o Options[K, V]) numPages() int {
	return int(o.LogByteCapacity / o.PageSize)
}

func (o Options[K, V]) logOptions() hlog.Options {
	return hlog.Options{
		PageSize:        o.PageSize,
		NumPages:        o.numPages(),
		MutableFraction: o.MutableFraction,
	}
}

func (o Options[K, V]) indexBits() uint {
	bits := uint(0)
	for uint64(1)<<bits < o.HashBucketCount {
		bits++
	}
	return bits
}

// DefaultOptions returns a reasonable starting configuration: 128
// buckets, a 16 MiB log in 1 MiB pages, half of it mutable - matching the
// "Basic" scenario in spec.md §8. DecodeKey/DecodeValue are still the
// caller's responsibility to set.
func DefaultOptions[K kv.Key, V kv.Value]() Options[K, V] {
	return Options[K, V]{
		HashBucketCount: 128,
		LogByteCapacity: 16 << 20,
		PageSize:        1 << 20,
		MutableFraction: 0.5,
	}
}
