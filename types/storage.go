package types

// Order of an iterator over a KVStore domain.
type Order int32

const (
	Ascending  Order = 1
	Descending Order = 2
)

// KVStore copies a subset of the interface from cosmos-sdk
// We can reduce this interface in the future if needed
type KVStore interface {
	Get(key []byte) []byte
	Set(key, value []byte)
	Delete(key []byte)

	// Iterator must be closed by caller.
	// To iterate over entire domain, use store.Iterator(nil, nil)
	Iterator(start, end []byte) Iterator

	// Iterator must be closed by caller.
	// Iterates over entire domain in descending order when start and end are nil.
	ReverseIterator(start, end []byte) Iterator
}

// Iterator copies the interface from cosmos-sdk store types.
// The iterator yields entries with start inclusive and end exclusive,
// regardless of direction.
type Iterator interface {
	// Domain returns the start (inclusive) and end (exclusive) limits of the iterator.
	Domain() (start []byte, end []byte)

	// Valid returns whether the current iterator is valid. Once invalid, the
	// Iterator remains invalid forever.
	Valid() bool

	// Next moves the iterator to the next key in the database, as defined by
	// order of iteration. If Valid returns false, this method will panic.
	Next()

	// Key returns the key at the current position. Panics if the iterator is invalid.
	Key() (key []byte)

	// Value returns the value at the current position. Panics if the iterator is invalid.
	Value() (value []byte)

	// Error returns the last error encountered by the iterator, if any.
	Error() error

	// Close releases any resources held by the iterator.
	Close() error
}
