// Package extensions maps ExtCall ids to host functions. It ships a handful of builtins and
// supports scripted mocks for tests.
package extensions

import (
	"fmt"
	"slices"
	"sync"

	"github.com/colorfulnotion/cpjit/jiterrors"
	"github.com/colorfulnotion/cpjit/log"
	"github.com/colorfulnotion/cpjit/vm"
)

// Func receives rs1, rs2, r3 and r4 and may fill out. Its return value goes to rd.
type Func func(args [4]uint64, out *[4]uint64) (int64, error)

type Signature struct {
	ID          uint32
	Name        string
	Description string
	ArgCount    int
}

type entry struct {
	sig Signature
	fn  Func
}

type mock struct {
	values  []int64
	outputs []uint64
	calls   int
}

// next repeats the last value once the sequence is exhausted.
func (m *mock) next() int64 {
	if len(m.values) == 0 {
		return 0
	}
	v := m.values[min(m.calls, len(m.values)-1)]
	m.calls++
	return v
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint32]*entry
	byName map[string]uint32
	mocks  map[uint32]*mock
}

var _ vm.Extensions = (*Registry)(nil)

// New returns a registry with the builtins installed.
func New() *Registry {
	r := NewEmpty()
	registerBuiltins(r)
	return r
}

func NewEmpty() *Registry {
	return &Registry{
		byID:   make(map[uint32]*entry),
		byName: make(map[string]uint32),
		mocks:  make(map[uint32]*mock),
	}
}

// Register installs fn under sig.ID. Ids and names must be unique.
func (r *Registry) Register(sig Signature, fn Func) error {
	if fn == nil {
		return fmt.Errorf("extension %q: nil function", sig.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[sig.ID]; dup {
		return fmt.Errorf("extension id %d already registered", sig.ID)
	}
	if _, dup := r.byName[sig.Name]; dup {
		return fmt.Errorf("extension %q already registered", sig.Name)
	}
	r.byID[sig.ID] = &entry{sig: sig, fn: fn}
	r.byName[sig.Name] = sig.ID
	return nil
}

func (r *Registry) Lookup(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// List returns every signature ordered by id.
func (r *Registry) List() []Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Signature, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.sig)
	}
	slices.SortFunc(out, func(a, b Signature) int { return int(a.ID) - int(b.ID) })
	return out
}

// Mock makes id return the given values in order, then the last one forever, copying
// outputs into the output registers. Mocks take precedence over registered functions.
func (r *Registry) Mock(id uint32, outputs []uint64, values ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mocks[id] = &mock{values: values, outputs: outputs}
}

func (r *Registry) ClearMocks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.mocks)
}

func (r *Registry) Call(id uint32, args [4]uint64, out *[4]uint64) (int64, error) {
	r.mu.Lock()
	if m, ok := r.mocks[id]; ok {
		v := m.next()
		copy(out[:], m.outputs)
		r.mu.Unlock()
		return v, nil
	}
	e, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", jiterrors.ErrUnknownExt, id)
	}
	res, err := e.fn(args, out)
	if err != nil {
		log.Debug(log.ExtensionMonitoring, "extension failed", "id", id, "name", e.sig.Name, "err", err)
	}
	return res, err
}
