package driver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"

	"kiln/internal/delta"
	"kiln/internal/markers"
	"kiln/internal/project"
	"kiln/internal/state"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

const (
	markersFile = "markers.mp"
	selfKey     = "self"
)

// stores is the persisted data of one project below its state folder.
type stores struct {
	p       *project.Project
	state   *state.Store
	snaps   *delta.Store
	markers string
}

func openStores(p *project.Project) (*stores, error) {
	dir := p.StatePath()
	st, err := state.OpenStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open state of %s: %w", p.Name, err)
	}
	snaps, err := delta.OpenStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open snapshots of %s: %w", p.Name, err)
	}
	return &stores{p: p, state: st, snaps: snaps, markers: filepath.Join(dir, markersFile)}, nil
}

// loadState returns the saved state, or nil when the next build must be
// full.
func (s *stores) loadState(ctx context.Context) (*state.State, error) {
	last, err := s.state.Load(s.p.ID(), s.p.CompilerFingerprint())
	if errors.Is(err, state.ErrNoState) {
		trace.Log(ctx, trace.ScopeDriver, "state.none", err.Error())
		return nil, nil
	}
	return last, err
}

// loadSnapshot returns the snapshot saved under key or nil.
func (s *stores) loadSnapshot(ctx context.Context, key string) (*delta.Snapshot, error) {
	snap, err := s.snaps.Load(key)
	if errors.Is(err, delta.ErrNoSnapshot) {
		trace.Log(ctx, trace.ScopeDriver, "snapshot.none", key)
		return nil, nil
	}
	return snap, err
}

// forget drops the state and the own snapshot so the next build is full.
func (s *stores) forget() error {
	return errors.Join(s.state.Drop(s.p.ID()), s.snaps.Drop(selfKey))
}

func prereqKey(pr *project.Project) string {
	return "prereq:" + filepath.ToSlash(pr.Root)
}

// snapshotRoots are the folders whose changes a build consumes: source
// roots and output folders.
func snapshotRoots(p *project.Project) []string {
	var roots []string
	for _, r := range p.SourceRoots {
		roots = append(roots, r.Dir)
	}
	return append(roots, p.Outputs()...)
}

// skipState keeps the state folder out of snapshots.
func skipState(p string, dir bool) bool {
	return dir && path.Base(p) == project.StateDir
}

func takeSnapshot(ctx context.Context, fsys workspace.FileSystem, roots []string) (*delta.Snapshot, error) {
	ctx, span := trace.Start(ctx, trace.ScopePass, "snapshot")
	snap, err := delta.Take(ctx, fsys, roots, skipState)
	if err != nil {
		span.End("error")
		return nil, err
	}
	span.End(fmt.Sprintf("%d entries", snap.Len()))
	return snap, nil
}

func loadMarkers(s *stores) (*markers.Store, error) {
	mk, err := markers.Load(s.markers)
	if err != nil {
		return nil, fmt.Errorf("load markers of %s: %w", s.p.Name, err)
	}
	return mk, nil
}
