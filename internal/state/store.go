package state

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/project"
	"kiln/internal/refs"
)

// schemaVersion changes whenever payload changes shape.
const schemaVersion uint16 = 5

// ErrNoState is returned by Load when nothing usable is stored.
var ErrNoState = errors.New("state: no usable build state")

// Store persists build states as msgpack blobs keyed by project ID.
type Store struct {
	mu  sync.RWMutex
	dir string
}

// OpenStore uses dir (usually <project>/.kiln) as its root.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (st *Store) pathFor(id project.Digest) string {
	return filepath.Join(st.dir, "state", id.String()+".mp")
}

type unitPayload struct {
	Locator      string        `msgpack:"l"`
	DefinedTypes []string      `msgpack:"d"`
	MainOnly     bool          `msgpack:"m"`
	Qualified    []refs.NameID `msgpack:"q"`
	Simple       []refs.NameID `msgpack:"s"`
	Root         []refs.NameID `msgpack:"r"`
}

type payload struct {
	Schema      uint16 `msgpack:"schema"`
	ProjectName string `msgpack:"project"`

	CompilerFingerprint project.Digest `msgpack:"compiler"`
	ConfigFingerprint   project.Digest `msgpack:"config"`

	BuildNumber                 int              `msgpack:"build"`
	LastStructuralBuildTime     int64            `msgpack:"last_structural"`
	PreviousStructuralBuildTime int64            `msgpack:"prev_structural"`
	StructurallyChangedTypes    []string         `msgpack:"changed"`
	ChangedTypesKnown           bool             `msgpack:"changed_known"`
	StructuralBuildTimes        map[string]int64 `msgpack:"prereq_times"`

	Names        []string          `msgpack:"names"`
	Units        []unitPayload     `msgpack:"units"`
	TypeLocators map[string]string `msgpack:"types"`
}

// Save writes s atomically: a temp file in the same directory is renamed
// over the previous blob.
func (st *Store) Save(id project.Digest, s *State) error {
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	p := st.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		// gone after a successful rename
		_ = os.Remove(tmp)
	}()

	enc := msgpack.NewEncoder(f)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(toPayload(s)); err != nil {
		_ = f.Close()
		return fmt.Errorf("state: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Load reads the state saved for id. It returns ErrNoState when nothing
// is stored, the schema is old, or the stored compiler fingerprint
// differs from want.
func (st *Store) Load(id project.Digest, want project.Digest) (*State, error) {
	if st == nil {
		return nil, ErrNoState
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	data, err := os.ReadFile(st.pathFor(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, err
	}
	var pl payload
	if err := msgpack.Unmarshal(data, &pl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoState, err)
	}
	if pl.Schema != schemaVersion {
		return nil, fmt.Errorf("%w: schema %d, want %d", ErrNoState, pl.Schema, schemaVersion)
	}
	if pl.CompilerFingerprint != want {
		return nil, fmt.Errorf("%w: compiler options changed", ErrNoState)
	}
	return fromPayload(&pl)
}

// Drop removes the saved state so the next build is a full build.
func (st *Store) Drop(id project.Digest) error {
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := os.Remove(st.pathFor(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func toPayload(s *State) *payload {
	pl := &payload{
		Schema:                      schemaVersion,
		ProjectName:                 s.ProjectName,
		CompilerFingerprint:         s.CompilerFingerprint,
		ConfigFingerprint:           s.ConfigFingerprint,
		BuildNumber:                 s.BuildNumber,
		LastStructuralBuildTime:     s.LastStructuralBuildTime,
		PreviousStructuralBuildTime: s.previousStructuralBuildTime,
		StructuralBuildTimes:        s.structuralBuildTimes,
		Names:                       s.Names.Names(),
		TypeLocators:                s.typeLocators,
	}
	if types, ok := s.ChangedTypes(); ok {
		pl.StructurallyChangedTypes = types
		pl.ChangedTypesKnown = true
	}
	for _, loc := range s.Locators() {
		c := s.references[loc]
		pl.Units = append(pl.Units, unitPayload{
			Locator:      loc,
			DefinedTypes: s.definedTypes[loc],
			MainOnly:     s.definedTypes[loc] == nil,
			Qualified:    c.Qualified,
			Simple:       c.Simple,
			Root:         c.Root,
		})
	}
	return pl
}

func fromPayload(pl *payload) (*State, error) {
	names, err := refs.NameTableFrom(pl.Names)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoState, err)
	}
	s := &State{
		ProjectName:                 pl.ProjectName,
		Names:                       names,
		references:                  make(map[string]refs.Collection, len(pl.Units)),
		definedTypes:                make(map[string][]string, len(pl.Units)),
		typeLocators:                maps.Clone(pl.TypeLocators),
		BuildNumber:                 pl.BuildNumber,
		LastStructuralBuildTime:     pl.LastStructuralBuildTime,
		previousStructuralBuildTime: pl.PreviousStructuralBuildTime,
		structuralBuildTimes:        maps.Clone(pl.StructuralBuildTimes),
		CompilerFingerprint:         pl.CompilerFingerprint,
		ConfigFingerprint:           pl.ConfigFingerprint,
		now:                         time.Now,
	}
	if s.typeLocators == nil {
		s.typeLocators = make(map[string]string)
	}
	if s.structuralBuildTimes == nil {
		s.structuralBuildTimes = make(map[string]int64)
	}
	if pl.ChangedTypesKnown {
		s.structurallyChangedTypes = make(map[string]struct{}, len(pl.StructurallyChangedTypes))
		for _, t := range pl.StructurallyChangedTypes {
			s.structurallyChangedTypes[t] = struct{}{}
		}
	}
	for _, u := range pl.Units {
		for _, ids := range [][]refs.NameID{u.Qualified, u.Simple, u.Root} {
			if !slices.IsSorted(ids) || (len(ids) > 0 && int(ids[len(ids)-1]) >= names.Len()) {
				return nil, fmt.Errorf("%w: corrupt references for %s", ErrNoState, u.Locator)
			}
		}
		s.references[u.Locator] = refs.Collection{Qualified: u.Qualified, Simple: u.Simple, Root: u.Root}
		switch {
		case u.MainOnly:
			s.definedTypes[u.Locator] = nil
		case u.DefinedTypes == nil:
			s.definedTypes[u.Locator] = []string{}
		default:
			s.definedTypes[u.Locator] = u.DefinedTypes
		}
	}
	return s, nil
}
