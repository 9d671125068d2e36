package delta

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/project"
)

const snapshotSchema uint16 = 1

// ErrNoSnapshot is returned by Load when nothing usable is stored.
var ErrNoSnapshot = errors.New("delta: no usable snapshot")

// Store keeps snapshots as msgpack blobs below dir.
type Store struct {
	dir string
}

type snapshotFile struct {
	Schema uint16    `msgpack:"schema"`
	Key    string    `msgpack:"key"`
	Snap   *Snapshot `msgpack:"snap"`
}

// OpenStore uses dir (usually <project>/.kiln) as its root.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (st *Store) pathFor(key string) string {
	return filepath.Join(st.dir, "snapshots", project.DigestStrings(key).Short()+".mp")
}

// Save writes snap under key, replacing any previous one.
func (st *Store) Save(key string, snap *Snapshot) error {
	p := st.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&snapshotFile{Schema: snapshotSchema, Key: key, Snap: snap})
	if err != nil {
		return fmt.Errorf("delta: encode %s: %w", key, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// Load returns the snapshot saved under key.
func (st *Store) Load(key string) (*Snapshot, error) {
	data, err := os.ReadFile(st.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	var f snapshotFile
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
	}
	if f.Schema != snapshotSchema || f.Key != key || f.Snap == nil {
		return nil, ErrNoSnapshot
	}
	if f.Snap.Entries == nil {
		f.Snap.Entries = make(map[string]Entry)
	}
	return f.Snap, nil
}

// Drop forgets the snapshot under key.
func (st *Store) Drop(key string) error {
	if err := os.Remove(st.pathFor(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
