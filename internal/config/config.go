// Package config loads the INI brick tree (spec §6) that cmd/kennyfs hands
// to brick.Assemble. Grounded on the teacher's fs/config/configfile package
// (the format confirmed by its configfile_test.go fixtures: one [section]
// per brick, arbitrary key = value lines), adapted to the go-ini/ini.v1
// library since the teacher's own configfile.go was not retrieved.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/hraban/kennyfs/brick"
)

// RootSection is the distinguished section name brick.Assemble starts from.
const RootSection = "brick_root"

// keyType and keySubvolumes are the distinguished keys every section may carry in
// addition to brick-specific params.
const (
	keyType       = "type"
	keySubvolumes = "subvolumes"
)

// Tree is a parsed config file: one Section per INI section, keyed by name.
type Tree struct {
	sections map[string]brick.Section
}

// Load reads and parses the INI file at path. A leading ~ in path is
// expanded to the HOME environment variable, per spec §6 — not
// os.UserHomeDir, since the substitution is defined purely in terms of
// that one variable.
func Load(path string) (*Tree, error) {
	path = expandHome(path)
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: load %q", path)
	}
	return fromFile(file)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	return os.Getenv("HOME") + path[1:]
}

func fromFile(file *ini.File) (*Tree, error) {
	sections := make(map[string]brick.Section)
	for _, sect := range file.Sections() {
		name := sect.Name()
		// ini.v1 always synthesizes a DEFAULT section; it never
		// names a brick and carries no type.
		if name == ini.DefaultSection {
			continue
		}
		kind := sect.Key(keyType).String()
		if kind == "" {
			return nil, errors.Errorf("config: section %q: missing %q key", name, keyType)
		}
		var subvolumes []string
		if raw := sect.Key(keySubvolumes).String(); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(part)
				if part != "" {
					subvolumes = append(subvolumes, part)
				}
			}
		}
		params := make(map[string]string)
		for _, key := range sect.Keys() {
			if key.Name() == keyType || key.Name() == keySubvolumes {
				continue
			}
			params[key.Name()] = key.String()
		}
		sections[name] = brick.Section{
			Name:       name,
			Kind:       kind,
			Params:     params,
			Subvolumes: subvolumes,
		}
	}
	return &Tree{sections: sections}, nil
}

// Lookup implements brick.SectionLookup.
func (t *Tree) Lookup(name string) (brick.Section, bool) {
	sect, ok := t.sections[name]
	return sect, ok
}
