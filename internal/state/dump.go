package state

// Dump is a printable view of a State used by `kiln state`.
type Dump struct {
	Project                  string            `json:"project" yaml:"project"`
	BuildNumber              int               `json:"build_number" yaml:"build_number"`
	LastStructuralBuildTime  int64             `json:"last_structural_build_time" yaml:"last_structural_build_time"`
	StructurallyChangedTypes []string          `json:"structurally_changed_types,omitempty" yaml:"structurally_changed_types,omitempty"`
	PrereqBuildTimes         map[string]int64  `json:"prerequisite_build_times,omitempty" yaml:"prerequisite_build_times,omitempty"`
	TypeLocators             map[string]string `json:"type_locators" yaml:"type_locators"`
	Units                    []UnitDump        `json:"units" yaml:"units"`
}

type UnitDump struct {
	Locator      string   `json:"locator" yaml:"locator"`
	DefinedTypes []string `json:"defined_types" yaml:"defined_types"`
	Qualified    []string `json:"qualified,omitempty" yaml:"qualified,omitempty"`
	Simple       []string `json:"simple,omitempty" yaml:"simple,omitempty"`
	Root         []string `json:"root,omitempty" yaml:"root,omitempty"`
}

// Dump resolves every collection back to names.
func (s *State) Dump() Dump {
	d := Dump{
		Project:                 s.ProjectName,
		BuildNumber:             s.BuildNumber,
		LastStructuralBuildTime: s.LastStructuralBuildTime,
		PrereqBuildTimes:        s.structuralBuildTimes,
		TypeLocators:            s.typeLocators,
	}
	d.StructurallyChangedTypes, _ = s.ChangedTypes()
	for _, loc := range s.Locators() {
		q, sm, r := s.references[loc].Strings(s.Names)
		d.Units = append(d.Units, UnitDump{
			Locator:      loc,
			DefinedTypes: s.definedTypes[loc],
			Qualified:    q,
			Simple:       sm,
			Root:         r,
		})
	}
	return d
}
