package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSnapshotter_Write(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"Dockerfile":      "FROM x\n",
		"a.py":            "print(1)\nx",
		"b.txt":           "",
		"c.go":            "package c\n",
		"sub/d.yml":       "k: v\n",
		"venv/lib.py":     "ignored\n",
		"sub/venv2/e.txt": "ignored too\n",
		DefaultStateFile:  "stale\n",
	})

	s := NewSnapshotter(SnapshotConfig{Root: root, Logger: testLogger()})
	msg, err := s.Write(context.Background())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if msg != "State file has been written" {
		t.Fatalf("message: got %q", msg)
	}

	data, err := os.ReadFile(filepath.Join(root, DefaultStateFile))
	if err != nil {
		t.Fatal(err)
	}
	want := "---Dockerfile---\n1:: FROM x\n\n" +
		"---a.py---\n1:: print(1)\n2:: x\n\n" +
		"---b.txt---\n\n" +
		"---" + filepath.Join("sub", "d.yml") + "---\n1:: k: v\n\n"
	if string(data) != want {
		t.Fatalf("state file:\n got %q\nwant %q", string(data), want)
	}
}

func TestSnapshotter_Overwrites(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "one\n"})
	s := NewSnapshotter(SnapshotConfig{Root: root, Logger: testLogger()})

	if _, err := s.Write(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeTree(t, root, map[string]string{"a.txt": "two\n"})
	if _, err := s.Write(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(filepath.Join(root, DefaultStateFile))
	if string(data) != "---a.txt---\n1:: two\n\n" {
		t.Fatalf("got %q", string(data))
	}
}

func TestSnapshotter_CustomIncludeAndOutput(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"main.go": "package main\n", "notes.txt": "n\n"})
	s := NewSnapshotter(SnapshotConfig{
		Root:    root,
		Output:  "snap.out",
		Include: []string{".go"},
		Logger:  testLogger(),
	})
	if _, err := s.Write(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(root, "snap.out"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "---main.go---\n1:: package main\n\n" {
		t.Fatalf("got %q", string(data))
	}
}

func TestSnapshotter_RespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":    "secret.txt\nbuild/\n",
		"keep.txt":      "k\n",
		"secret.txt":    "s\n",
		"build/out.txt": "b\n",
	})

	s := NewSnapshotter(SnapshotConfig{Root: root, RespectGitignore: true, Logger: testLogger()})
	if _, err := s.Write(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(root, DefaultStateFile))
	if string(data) != "---keep.txt---\n1:: k\n\n" {
		t.Fatalf("got %q", string(data))
	}
}

func TestSnapshotter_GitignoreMissingIsFine(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a\n"})
	s := NewSnapshotter(SnapshotConfig{Root: root, RespectGitignore: true, Logger: testLogger()})
	if _, err := s.Write(context.Background()); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestSnapshotter_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSnapshotter(SnapshotConfig{Root: root, Logger: testLogger()})
	if _, err := s.Write(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
