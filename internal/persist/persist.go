// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package persist implements durable show/macro-table storage: text
// files in a configurable directory, named
// by a sanitised form of the show/profile name, written atomically via
// renameio so a crash mid-write never leaves a truncated file behind.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/mousetraptech/productionhub/internal/cue"
	"github.com/mousetraptech/productionhub/internal/macro"
	"gopkg.in/yaml.v3"
)

// Store persists shows and macro tables under a configured directory.
type Store struct {
	dir string
}

// New builds a Store rooted at dir, creating it if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create directory %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// showDocument is the on-disk serialisation of a cue.ShowState: a direct
// mirror of the in-memory fields.
type showDocument struct {
	Name            string       `yaml:"name"`
	Cues            []cue.Cue    `yaml:"cues"`
	ActiveCueIndex  int          `yaml:"active_cue_index"`
	FiredCueIndices map[int]bool `yaml:"fired_cue_indices"`
}

// macroDocument is the on-disk serialisation of the user-configurable
// macro table.
type macroDocument struct {
	Macros []macro.Macro `yaml:"macros"`
}

// SaveShow writes state to <dir>/<sanitised name>.show.yaml, replacing any
// existing file atomically.
func (s *Store) SaveShow(name string, state cue.ShowState) error {
	doc := showDocument{
		Name:            state.Name,
		Cues:            state.Cues,
		ActiveCueIndex:  state.ActiveCueIndex,
		FiredCueIndices: state.FiredCueIndices,
	}
	return s.writeYAML(s.showPath(name), doc)
}

// LoadShow reads the show persisted under name. ok is false (with a nil
// error) if no file exists for that name, matching the "config-missing:
// warn at startup, continue with empty state" policy; callers decide
// whether an absent show is worth warning about.
func (s *Store) LoadShow(name string) (cue.ShowState, bool, error) {
	var doc showDocument
	ok, err := s.readYAML(s.showPath(name), &doc)
	if err != nil || !ok {
		return cue.ShowState{}, ok, err
	}
	fired := doc.FiredCueIndices
	if fired == nil {
		fired = map[int]bool{}
	}
	return cue.ShowState{
		Name:            doc.Name,
		Cues:            doc.Cues,
		ActiveCueIndex:  doc.ActiveCueIndex,
		FiredCueIndices: fired,
	}, true, nil
}

// SaveMacros writes the macro table persisted under name.
func (s *Store) SaveMacros(name string, macros []macro.Macro) error {
	return s.writeYAML(s.macroPath(name), macroDocument{Macros: macros})
}

// LoadMacros reads the macro table persisted under name.
func (s *Store) LoadMacros(name string) ([]macro.Macro, bool, error) {
	var doc macroDocument
	ok, err := s.readYAML(s.macroPath(name), &doc)
	if err != nil || !ok {
		return nil, ok, err
	}
	return doc.Macros, true, nil
}

func (s *Store) showPath(name string) string {
	return filepath.Join(s.dir, SanitizeName(name)+".show.yaml")
}

func (s *Store) macroPath(name string) string {
	return filepath.Join(s.dir, SanitizeName(name)+".macros.yaml")
}

func (s *Store) writeYAML(path string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("persist: marshal %q: %w", path, err)
	}

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("persist: create pending file %q: %w", path, err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("persist: write %q: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("persist: replace %q: %w", path, err)
	}
	return nil
}

func (s *Store) readYAML(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("persist: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("persist: unmarshal %q: %w", path, err)
	}
	return true, nil
}

// SanitizeName implements the file-naming rule: lowercase, every rune
// other than an ASCII letter or digit replaced with a single '_'.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
