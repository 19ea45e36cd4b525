package brick

import (
	"github.com/pkg/errors"

	"github.com/hraban/kennyfs/internal/log"
)

// Section is what the loader (spec §4.4) needs to know about one config
// section to build the brick it names.
type Section struct {
	Name       string
	Kind       string
	Params     map[string]string
	Subvolumes []string
}

// SectionLookup resolves a section name to its declaration. Kept as an
// indirection (rather than a concrete config.Tree type) so this package
// never imports the config parser — the same separation the teacher draws
// between fs.Fs and fs/config.
type SectionLookup func(name string) (Section, bool)

// Assemble builds the brick instance named by root, constructing its
// declared subvolumes first (bottom up), recursively. If any brick fails
// to init, every subvolume already initialized for that failed brick (and
// transitively, for its parents-in-progress) is halted in reverse order
// before the failure propagates, per spec §4.1.
func Assemble(root string, lookup SectionLookup) (*Instance, error) {
	inst, err := assemble(root, lookup, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func assemble(name string, lookup SectionLookup, visiting map[string]bool) (*Instance, error) {
	if visiting[name] {
		return nil, errors.Errorf("brick: cycle detected at section %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	sect, ok := lookup(name)
	if !ok {
		return nil, errors.Errorf("brick: section %q not found", name)
	}
	kind, ok := Lookup(sect.Kind)
	if !ok {
		return nil, errors.Errorf("brick: section %q: unknown brick kind %q", name, sect.Kind)
	}

	subvols := make([]*Instance, 0, len(sect.Subvolumes))
	for _, subName := range sect.Subvolumes {
		sub, err := assemble(subName, lookup, visiting)
		if err != nil {
			haltAll(subvols)
			return nil, errors.Wrapf(err, "brick: section %q: subvolume %q", name, subName)
		}
		subvols = append(subvols, sub)
	}

	if err := kind.CheckSubvolumeCount(len(subvols)); err != nil {
		haltAll(subvols)
		return nil, errors.Wrapf(err, "brick: section %q (%s)", name, sect.Kind)
	}

	state, err := kind.Init(name, sect.Params, subvols)
	if err != nil {
		haltAll(subvols)
		return nil, errors.Wrapf(err, "brick: section %q (%s): init failed", name, sect.Kind)
	}

	inst := &Instance{Name: name, Ops: kind.GetOps(), State: state, halt: kind.Halt}
	log.Debugf(name, "brick %q (%s) initialized with %d subvolume(s)", name, sect.Kind, len(subvols))
	return inst, nil
}

// haltAll halts already-initialized instances in reverse order, the
// top-down teardown spec §4.1 requires on a failed assembly.
func haltAll(instances []*Instance) {
	for i := len(instances) - 1; i >= 0; i-- {
		Halt(instances[i])
	}
}

// Halt releases inst's state exactly once.
func Halt(inst *Instance) {
	if inst == nil || inst.halt == nil {
		return
	}
	inst.halt(inst.State)
	inst.halt = nil
}
