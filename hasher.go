package scalemap

import (
	"hash/maphash"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// HashFunc hashes a key with the per-map seed. Entries cache the result, so
// it is called once per Put of a new key and once per lookup, never during a
// rehash.
type HashFunc[K comparable] func(key K, seed uint64) uint64

// XXH3String hashes string keys with xxh3. It is the default for string keys.
func XXH3String(key string, seed uint64) uint64 {
	return xxh3.HashStringSeed(key, seed)
}

// XXHashString hashes string keys with xxhash64, folding in the seed.
// Use it with WithKeyHash when hashes must match other xxhash64 consumers.
func XXHashString(key string, seed uint64) uint64 {
	return xxhash.Sum64String(key) ^ seed
}

// defaultHasher picks a hash function for K.
//
// Integer keys are mixed with the golden-ratio constant so that sequential
// keys spread over the low bits used for slot selection. Plain strings go
// through xxh3. Everything else falls back to the runtime's hash for
// comparable types.
func defaultHasher[K comparable]() HashFunc[K] {
	switch any(*new(K)).(type) {
	case int, uint, uintptr:
		return func(key K, _ uint64) uint64 {
			return mixInt(uint64(*(*uintptr)(unsafe.Pointer(&key))))
		}
	case int64, uint64:
		return func(key K, _ uint64) uint64 {
			return mixInt(*(*uint64)(unsafe.Pointer(&key)))
		}
	case int32, uint32:
		return func(key K, _ uint64) uint64 {
			return mixInt(uint64(*(*uint32)(unsafe.Pointer(&key))))
		}
	case int16, uint16:
		return func(key K, _ uint64) uint64 {
			return mixInt(uint64(*(*uint16)(unsafe.Pointer(&key))))
		}
	case int8, uint8:
		return func(key K, _ uint64) uint64 {
			return mixInt(uint64(*(*uint8)(unsafe.Pointer(&key))))
		}
	case string:
		return func(key K, seed uint64) uint64 {
			return XXH3String(*(*string)(unsafe.Pointer(&key)), seed)
		}
	default:
		ms := maphash.MakeSeed()
		return func(key K, _ uint64) uint64 {
			return maphash.Comparable(ms, key)
		}
	}
}

// mixInt is a bijection for keys that fit in a machine word.
func mixInt(x uint64) uint64 {
	h := (uintptr(x) ^ uintptr(x>>32)) * hashPrime
	return uint64(h ^ h>>mixShift)
}
