package driver

import (
	"context"
	"time"

	"kiln/internal/markers"
	"kiln/internal/project"
)

// UnitSummary describes one recorded source unit.
type UnitSummary struct {
	Locator      string   `json:"locator" yaml:"locator"`
	DefinedTypes []string `json:"defined_types,omitempty" yaml:"defined_types,omitempty"`
	Qualified    []string `json:"qualified,omitempty" yaml:"qualified,omitempty"`
	Simple       []string `json:"simple,omitempty" yaml:"simple,omitempty"`
	Root         []string `json:"root,omitempty" yaml:"root,omitempty"`
}

// StateSummary is the saved state of a project in a printable form.
type StateSummary struct {
	Project             string        `json:"project" yaml:"project"`
	Saved               bool          `json:"saved" yaml:"saved"`
	BuildNumber         int           `json:"build_number" yaml:"build_number"`
	Noop                bool          `json:"noop,omitempty" yaml:"noop,omitempty"`
	LastStructuralBuild time.Time     `json:"last_structural_build" yaml:"last_structural_build"`
	Types               int           `json:"types" yaml:"types"`
	ChangedTypes        []string      `json:"changed_types,omitempty" yaml:"changed_types,omitempty"`
	ChangedUnknown      bool          `json:"changed_unknown,omitempty" yaml:"changed_unknown,omitempty"`
	Units               []UnitSummary `json:"units,omitempty" yaml:"units,omitempty"`
}

// InspectState summarizes the saved state of every project. Units are
// listed only when withUnits is set.
func InspectState(ctx context.Context, ws *Workspace, withUnits bool) ([]StateSummary, error) {
	var out []StateSummary
	for _, p := range ws.Projects() {
		sum, err := inspectProject(ctx, p, withUnits)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

func inspectProject(ctx context.Context, p *project.Project, withUnits bool) (StateSummary, error) {
	sum := StateSummary{Project: p.Name}
	st, err := openStores(p)
	if err != nil {
		return sum, err
	}
	s, err := st.loadState(ctx)
	if err != nil || s == nil {
		return sum, err
	}
	sum.Saved = true
	sum.BuildNumber = s.BuildNumber
	sum.Noop = s.WasNoopBuild()
	sum.LastStructuralBuild = time.UnixMilli(s.LastStructuralBuildTime).UTC()
	sum.Types = len(s.TypeNames())
	if types, ok := s.ChangedTypes(); ok {
		sum.ChangedTypes = types
	} else {
		sum.ChangedUnknown = s.BuildNumber > 0
	}
	if !withUnits {
		return sum, nil
	}
	for _, loc := range s.Locators() {
		u := UnitSummary{Locator: loc}
		if names, ok := s.DefinedTypeNamesFor(loc); ok {
			u.DefinedTypes = names
		}
		if c, ok := s.References(loc); ok {
			u.Qualified, u.Simple, u.Root = c.Strings(s.Names)
		}
		sum.Units = append(sum.Units, u)
	}
	return sum, nil
}

// ProjectMarkers pairs a project with its saved markers.
type ProjectMarkers struct {
	Project *project.Project
	Markers *markers.Store
}

// LoadMarkers reads the saved markers of every project.
func LoadMarkers(ws *Workspace) ([]ProjectMarkers, error) {
	var out []ProjectMarkers
	for _, p := range ws.Projects() {
		st, err := openStores(p)
		if err != nil {
			return nil, err
		}
		mk, err := loadMarkers(st)
		if err != nil {
			return nil, err
		}
		out = append(out, ProjectMarkers{Project: p, Markers: mk})
	}
	return out, nil
}
