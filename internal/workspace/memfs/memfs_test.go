package memfs

import (
	"io/fs"
	"testing"
)

func TestWriteCreatesParents(t *testing.T) {
	m := New().Add("src/a/b/A.kl", "class A {}")
	info, err := m.Stat("src/a")
	if err != nil || !info.IsDir() {
		t.Fatalf("src/a not a directory: %v %v", info, err)
	}
	var files []string
	err = fs.WalkDir(m, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "src/a/b/A.kl" {
		t.Fatalf("walk = %v", files)
	}
}

func TestRemoveSemantics(t *testing.T) {
	m := New().Add("bin/p/A.klass", "a")
	if err := m.Remove("bin/p"); err == nil {
		t.Fatal("removing a non-empty directory should fail")
	}
	if err := m.Remove("bin/p/A.klass"); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("bin/p/A.klass"); err == nil {
		t.Fatal("second remove should fail")
	}
	if err := m.Remove("bin/p"); err != nil {
		t.Fatalf("empty dir remove: %v", err)
	}
}

func TestModTimesAdvance(t *testing.T) {
	m := New().Add("a", "1").Add("b", "2")
	ia, _ := m.Stat("a")
	ib, _ := m.Stat("b")
	if !ib.ModTime().After(ia.ModTime()) {
		t.Fatal("mod times should advance")
	}
}
