package table

// TableSize is the size of the hash space of a PrefixTable (2^16).
const TableSize = 1 << 16

const (
	none = iota
	// prefixMarker: some key has a prefix hashing here
	prefixMarker
	// keyMarker: a complete key hashes here
	keyMarker
)

// PrefixTable maps short byte keys (magic numbers, signatures) to values and
// finds every stored key that is a prefix of a given input in a single pass.
//
// Each byte of a key folds into a 16 bit rolling hash, h = h<<2 + b, and the
// table records for every intermediate hash whether it is a key prefix or a
// full key. Walking an input stops as soon as a hash was never seen.
type PrefixTable[T any] struct {
	marks  [TableSize]byte
	elems  map[string]T
	maxLen int
}

func New[T any]() *PrefixTable[T] {
	return &PrefixTable[T]{
		elems: make(map[string]T),
	}
}

// Insert stores v under key, replacing any previous value.
func (t *PrefixTable[T]) Insert(key []byte, v T) {
	var h uint16
	for _, b := range key {
		h = (h << 2) + uint16(b)
		t.marks[h] = max(t.marks[h], prefixMarker)
	}
	t.marks[h] = keyMarker
	t.elems[string(key)] = v
	t.maxLen = max(t.maxLen, len(key))
}

func (t *PrefixTable[T]) Get(key []byte) (T, bool) {
	v, found := t.elems[string(key)]
	return v, found
}

// Walk calls onMatch, shortest first, for every stored key that is a prefix
// of key. Returning true from onMatch stops the walk.
func (t *PrefixTable[T]) Walk(key []byte, onMatch func(T) bool) {
	if len(key) > t.maxLen {
		key = key[:t.maxLen]
	}

	var h uint16
	for i, b := range key {
		h = (h << 2) + uint16(b)

		switch t.marks[h] {
		case none:
			return
		case keyMarker:
			// the hash can collide, so confirm with the exact key
			if v, ok := t.elems[string(key[:i+1])]; ok && onMatch(v) {
				return
			}
		}
	}
}

// Longest returns the value of the longest stored key that prefixes key.
func (t *PrefixTable[T]) Longest(key []byte) (T, bool) {
	var (
		res   T
		found bool
	)
	t.Walk(key, func(v T) bool {
		res, found = v, true
		return false
	})
	return res, found
}

// Size returns the number of keys stored.
func (t *PrefixTable[T]) Size() int {
	return len(t.elems)
}

// MaxKeyLen returns the length of the longest key stored.
func (t *PrefixTable[T]) MaxKeyLen() int {
	return t.maxLen
}
