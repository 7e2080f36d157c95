package tool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

const (
	DefaultStateFile = "state.txt"
	DefaultExclude   = "venv"
	stateWritten     = "State file has been written"
)

// DefaultInclude lists the suffixes and file names a snapshot picks up.
var DefaultInclude = []string{".yml", ".txt", ".py", "Dockerfile"}

type SnapshotConfig struct {
	Root             string
	Output           string   // file name relative to Root
	Exclude          string   // paths containing this are skipped
	Include          []string // suffixes (".py") or exact names ("Dockerfile")
	RespectGitignore bool
	Logger           *slog.Logger
}

// Snapshotter writes a single annotated file holding the contents of every
// matching file under Root.
type Snapshotter struct {
	root      string
	output    string
	exclude   string
	include   []string
	gitignore bool
	logger    *slog.Logger
}

func NewSnapshotter(cfg SnapshotConfig) *Snapshotter {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Output == "" {
		cfg.Output = DefaultStateFile
	}
	if cfg.Exclude == "" {
		cfg.Exclude = DefaultExclude
	}
	if len(cfg.Include) == 0 {
		cfg.Include = DefaultInclude
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Snapshotter{
		root:      cfg.Root,
		output:    cfg.Output,
		exclude:   cfg.Exclude,
		include:   cfg.Include,
		gitignore: cfg.RespectGitignore,
		logger:    cfg.Logger,
	}
}

// Write replaces the state file. Each included file is written as a
// "---path---" header, its lines prefixed with "n:: ", and a blank line.
func (s *Snapshotter) Write(ctx context.Context) (string, error) {
	files, err := s.collect(ctx)
	if err != nil {
		return "", err
	}

	outPath := filepath.Join(s.root, s.output)
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create state file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	written := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.writeFile(w, rel); err != nil {
			s.logger.Warn("skipping unreadable file", "path", rel, "err", err)
			continue
		}
		written++
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("write state file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close state file: %w", err)
	}

	s.logger.Info("state file written", "path", outPath, "files", written)
	return stateWritten, nil
}

// collect returns matching paths relative to root in lexical order.
func (s *Snapshotter) collect(ctx context.Context) ([]string, error) {
	var ign *ignore.GitIgnore
	if s.gitignore {
		gi, err := ignore.CompileIgnoreFile(filepath.Join(s.root, ".gitignore"))
		switch {
		case err == nil:
			ign = gi
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read .gitignore: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			s.logger.Warn("skipping unreadable path", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if strings.Contains(rel, s.exclude) || (ign != nil && ign.MatchesPath(filepath.ToSlash(rel))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || rel == s.output || !s.matches(d.Name()) {
			return nil
		}
		if !d.Type().IsRegular() {
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	return files, nil
}

func (s *Snapshotter) matches(name string) bool {
	return slices.Contains(s.include, filepath.Ext(name)) || slices.Contains(s.include, name)
}

func (s *Snapshotter) writeFile(w *bufio.Writer, rel string) error {
	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "---%s---\n", rel)
	for n, line := range strings.SplitAfter(string(data), "\n") {
		if line == "" {
			continue
		}
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		fmt.Fprintf(w, "%d:: %s", n+1, line)
	}
	// bufio.Writer errors are sticky and surface at Flush.
	_, err = w.WriteString("\n")
	return err
}
