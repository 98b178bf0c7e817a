// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package persist

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mousetraptech/productionhub/internal/cue"
	"github.com/mousetraptech/productionhub/internal/macro"
)

// LoadMacroFile reads a macro-table template from an arbitrary path, outside
// the Store's own directory. A missing file returns ok=false and no error,
// so startup can warn and continue with an empty table.
func LoadMacroFile(path string) ([]macro.Macro, bool, error) {
	var doc macroDocument
	ok, err := readYAMLFile(path, &doc)
	if err != nil || !ok {
		return nil, ok, err
	}
	return doc.Macros, true, nil
}

// LoadShowFile reads a show template from an arbitrary path.
func LoadShowFile(path string) (cue.ShowState, bool, error) {
	var doc showDocument
	ok, err := readYAMLFile(path, &doc)
	if err != nil || !ok {
		return cue.ShowState{}, ok, err
	}
	return cue.ShowState{
		Name:            doc.Name,
		Cues:            doc.Cues,
		ActiveCueIndex:  doc.ActiveCueIndex,
		FiredCueIndices: doc.FiredCueIndices,
	}, true, nil
}

func readYAMLFile(path string, out any) (bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied template path
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("persist: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("persist: parse %s: %w", path, err)
	}
	return true, nil
}
