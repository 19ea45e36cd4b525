package brick

import (
	"sync"

	"github.com/pkg/errors"
)

// InitFunc captures the brick's configuration, acquires whatever resources
// the brick needs, and returns the opaque state value that will be
// threaded into every subsequent call (spec §4.1). Assemble checks the
// subvolume count with Kind.CheckSubvolumeCount before calling it. params
// holds every config-file key for this section except "type" and
// "subvolumes".
type InitFunc func(name string, params map[string]string, subvolumes []*Instance) (state any, err error)

// GetOpsFunc returns the brick kind's static operation table.
type GetOpsFunc func() *Ops

// HaltFunc releases state. Called exactly once per successful Init.
type HaltFunc func(state any)

// Kind is a compile-time-registered brick implementation (spec §9, design
// note on dynamic loading: "register brick kinds at compile time through a
// builder/registry pattern keyed by name").
type Kind struct {
	Init   InitFunc
	GetOps GetOpsFunc
	Halt   HaltFunc
	// MinSubvolumes/MaxSubvolumes bound the subvolume count Init accepts;
	// -1 for MaxSubvolumes means unbounded.
	MinSubvolumes int
	MaxSubvolumes int
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Kind{}
)

// Register adds a brick kind under name. Called from the init() of each
// backend package, matching the teacher's fs.Register(fsi) convention.
func Register(name string, k Kind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(errors.Errorf("brick: kind %q already registered", name))
	}
	registry[name] = k
}

// Lookup resolves a brick kind by name.
func Lookup(name string) (Kind, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := registry[name]
	return k, ok
}

// CheckSubvolumeCount validates n against the kind's bounds, returning the
// "wrong subvolume count" failure spec §4.1 requires Init to produce.
func (k Kind) CheckSubvolumeCount(n int) error {
	if n < k.MinSubvolumes {
		return errors.Errorf("expects at least %d subvolumes, got %d", k.MinSubvolumes, n)
	}
	if k.MaxSubvolumes >= 0 && n > k.MaxSubvolumes {
		return errors.Errorf("expects at most %d subvolumes, got %d", k.MaxSubvolumes, n)
	}
	return nil
}
