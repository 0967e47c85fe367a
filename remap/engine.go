package remap

import (
	"sort"
	"sync"

	"github.com/gopatchy/lxnet/config"
)

// Output represents a remapped DMX output
type Output struct {
	Universe config.Universe
	Data     [512]byte
}

// Engine handles DMX channel remapping. Destination frames persist between
// calls so that several sources can feed one output universe.
type Engine struct {
	mappings []config.NormalizedMapping
	// Index mappings by source universe for faster lookup
	bySource map[config.Universe][]config.NormalizedMapping

	mu      sync.Mutex
	outputs map[config.Universe]*Output
	dirty   map[config.Universe]bool
}

// NewEngine creates a new remapping engine
func NewEngine(mappings []config.NormalizedMapping) *Engine {
	e := &Engine{
		mappings: mappings,
		bySource: map[config.Universe][]config.NormalizedMapping{},
		outputs:  map[config.Universe]*Output{},
		dirty:    map[config.Universe]bool{},
	}
	for _, m := range mappings {
		e.bySource[m.From] = append(e.bySource[m.From], m)
		if _, ok := e.outputs[m.To]; !ok {
			e.outputs[m.To] = &Output{Universe: m.To}
		}
	}
	return e
}

// Remap copies the mapped channels of src into their destination frames and
// marks those frames dirty.
func (e *Engine) Remap(src config.Universe, srcData [512]byte) {
	mappings, ok := e.bySource[src]
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range mappings {
		out := e.outputs[m.To]
		for i := 0; i < m.Count; i++ {
			srcChan := m.FromChan + i
			dstChan := m.ToChan + i
			if srcChan < 512 && dstChan < 512 {
				out.Data[dstChan] = srcData[srcChan]
			}
		}
		e.dirty[m.To] = true
	}
}

// GetDirtyOutputs returns copies of the frames changed since the last call,
// sorted by universe.
func (e *Engine) GetDirtyOutputs() []Output {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]Output, 0, len(e.dirty))
	for u := range e.dirty {
		result = append(result, *e.outputs[u])
	}
	clear(e.dirty)

	sortOutputs(result)
	return result
}

// Output returns the current frame for a destination universe
func (e *Engine) Output(u config.Universe) (Output, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, ok := e.outputs[u]
	if !ok {
		return Output{}, false
	}
	return *out, true
}

// SourceUniverses returns all universes that have mappings
func (e *Engine) SourceUniverses() []config.Universe {
	result := make([]config.Universe, 0, len(e.bySource))
	for u := range e.bySource {
		result = append(result, u)
	}
	sortUniverses(result)
	return result
}

// DestUniverses returns all destination universes
func (e *Engine) DestUniverses() []config.Universe {
	result := make([]config.Universe, 0, len(e.outputs))
	for u := range e.outputs {
		result = append(result, u)
	}
	sortUniverses(result)
	return result
}

func less(a, b config.Universe) bool {
	if a.Protocol != b.Protocol {
		return a.Protocol < b.Protocol
	}
	return a.Number < b.Number
}

func sortUniverses(us []config.Universe) {
	sort.Slice(us, func(i, j int) bool { return less(us[i], us[j]) })
}

func sortOutputs(outs []Output) {
	sort.Slice(outs, func(i, j int) bool { return less(outs[i].Universe, outs[j].Universe) })
}
