package flowfile

// Pair is a single attribute.
type Pair struct {
	Key   string
	Value string
}

// Attributes is an insertion-ordered key/value set.
// Not safe for concurrent use; a flow file has a single owner at a time.
type Attributes struct {
	index map[string]int
	pairs []Pair
}

// NewAttributes creates an empty attribute set.
func NewAttributes() *Attributes {
	return &Attributes{index: make(map[string]int)}
}

// Set inserts or overwrites a value. Overwriting keeps the original position.
func (a *Attributes) Set(key, value string) {
	if i, ok := a.index[key]; ok {
		a.pairs[i].Value = value
		return
	}
	a.index[key] = len(a.pairs)
	a.pairs = append(a.pairs, Pair{Key: key, Value: value})
}

// Get returns the value for key.
func (a *Attributes) Get(key string) (string, bool) {
	i, ok := a.index[key]
	if !ok {
		return "", false
	}
	return a.pairs[i].Value, true
}

// Remove deletes key, preserving the order of the rest.
func (a *Attributes) Remove(key string) bool {
	i, ok := a.index[key]
	if !ok {
		return false
	}
	a.pairs = append(a.pairs[:i], a.pairs[i+1:]...)
	delete(a.index, key)
	for j := i; j < len(a.pairs); j++ {
		a.index[a.pairs[j].Key] = j
	}
	return true
}

// Len returns the number of attributes.
func (a *Attributes) Len() int {
	return len(a.pairs)
}

// Keys returns keys in insertion order.
func (a *Attributes) Keys() []string {
	keys := make([]string, len(a.pairs))
	for i, p := range a.pairs {
		keys[i] = p.Key
	}
	return keys
}

// Pairs returns a copy of the attributes in insertion order.
func (a *Attributes) Pairs() []Pair {
	out := make([]Pair, len(a.pairs))
	copy(out, a.pairs)
	return out
}

// ToMap converts to an unordered map.
func (a *Attributes) ToMap() map[string]string {
	m := make(map[string]string, len(a.pairs))
	for _, p := range a.pairs {
		m[p.Key] = p.Value
	}
	return m
}
