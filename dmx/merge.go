// Package dmx holds the slot buffers and the two-source merge shared by the
// DMX over Ethernet endpoints.
package dmx

const (
	UniverseSize = 512
	MinSlots     = 24
)

// Policy selects how the two sources are combined when reading a slot.
type Policy int

const (
	// HTP returns the higher of the two levels once a second source exists.
	HTP Policy = iota
	// Priority lets a higher priority secondary win outright and falls back
	// to HTP when the priorities are equal.
	Priority
)

type source[K comparable] struct {
	id       K
	priority uint8
	levels   []byte
}

// Merger holds up to two sources for one universe. The zero value of K marks
// an unbound source. The primary buffer doubles as the send buffer.
type Merger[K comparable] struct {
	policy    Policy
	primary   source[K]
	secondary source[K]
	slots     int
}

func NewMerger[K comparable](policy Policy, capacity, slots int) *Merger[K] {
	if slots > capacity {
		slots = capacity
	}
	return &Merger[K]{
		policy:    policy,
		primary:   source[K]{levels: make([]byte, capacity)},
		secondary: source[K]{levels: make([]byte, capacity)},
		slots:     slots,
	}
}

// Accept stores data from the source id. The first source seen binds the
// primary buffer and the next distinct one binds the secondary; anything else
// is rejected and Accept returns false.
func (m *Merger[K]) Accept(id K, priority uint8, data []byte) bool {
	var zero K

	var s *source[K]
	switch {
	case m.primary.id == zero || m.primary.id == id:
		s = &m.primary
	case m.secondary.id == zero || m.secondary.id == id:
		s = &m.secondary
	default:
		return false
	}

	s.id = id
	s.priority = priority

	n := len(data)
	if n > len(s.levels) {
		n = len(s.levels)
	}
	if n > m.slots {
		m.slots = n
	}
	copy(s.levels, data[:n])
	clear(s.levels[n:m.slots])
	return true
}

func (m *Merger[K]) HasSecondary() bool {
	var zero K
	return m.secondary.id != zero
}

// Level returns the merged level at the zero based index i.
func (m *Merger[K]) Level(i int) uint8 {
	if i < 0 || i >= len(m.primary.levels) {
		return 0
	}
	p := m.primary.levels[i]
	if !m.HasSecondary() {
		return p
	}
	s := m.secondary.levels[i]

	if m.policy == Priority {
		switch {
		case m.secondary.priority > m.primary.priority:
			return s
		case m.secondary.priority < m.primary.priority:
			return p
		}
	}
	return max(p, s)
}

// Set writes the primary buffer at the zero based index i.
func (m *Merger[K]) Set(i int, v uint8) {
	if i < 0 || i >= len(m.primary.levels) {
		return
	}
	m.primary.levels[i] = v
}

func (m *Merger[K]) Slots() int {
	return m.slots
}

func (m *Merger[K]) SetSlots(n int) {
	m.slots = min(max(n, 0), len(m.primary.levels))
}

// Primary returns the send buffer truncated to the logical slot count.
func (m *Merger[K]) Primary() []byte {
	return m.primary.levels[:m.slots]
}

// Sources returns the bound source identities, primary first.
func (m *Merger[K]) Sources() []K {
	var zero K
	var ids []K
	if m.primary.id != zero {
		ids = append(ids, m.primary.id)
	}
	if m.secondary.id != zero {
		ids = append(ids, m.secondary.id)
	}
	return ids
}

// CancelMerge forgets both sources, clears the secondary buffer and resets
// the slot count to zero.
func (m *Merger[K]) CancelMerge() {
	var zero K
	m.primary.id = zero
	m.secondary.id = zero
	m.primary.priority = 0
	m.secondary.priority = 0
	clear(m.secondary.levels)
	m.slots = 0
}

// Reset forgets both sources and clears both buffers.
func (m *Merger[K]) Reset() {
	var zero K
	m.primary.id = zero
	m.secondary.id = zero
	m.primary.priority = 0
	m.secondary.priority = 0
	m.ClearLevels()
}

// ClearLevels zeroes both buffers without touching the sources.
func (m *Merger[K]) ClearLevels() {
	clear(m.primary.levels)
	clear(m.secondary.levels)
}
