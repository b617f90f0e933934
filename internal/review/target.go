package review

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoagent/internal/fetch"
)

// TargetFile is one file in the review target with its content loaded.
type TargetFile struct {
	RelPath      string
	AbsPath      string
	Language     string
	Lines        []string
	NoEOFNewline bool
}

// Target is what one review invocation inspects: either the full working
// tree or only the staged file set.
type Target struct {
	Root       string
	Repository string
	Staged     bool
	Files      []TargetFile
	Diff       string // staged diff text when Staged, empty otherwise
}

// buildTarget resolves the file set for a review. With staged=true only the
// files named by the staged diff are loaded; a repository with nothing staged
// yields an empty target, not an error.
func buildTarget(ctx context.Context, f *fetch.Fetcher, wc fetch.WorkingCopy, staged bool) (*Target, error) {
	t := &Target{Root: wc.Root, Repository: wc.Repository, Staged: staged}

	if staged {
		names, diff, err := stagedChanges(ctx, f.Git, wc.Root)
		if err != nil {
			return nil, err
		}
		t.Diff = diff
		for _, name := range names {
			abs := filepath.Join(wc.Root, name)
			if fetch.ShouldSkip(abs) {
				continue
			}
			tf, err := loadFile(name, abs)
			if err != nil {
				// File may be staged for deletion.
				log.Debug().Err(err).Str("path", name).Msg("staged file not readable")
				continue
			}
			t.Files = append(t.Files, tf)
		}
		return t, nil
	}

	files, err := f.ListFiles(wc.Root)
	if err != nil {
		return nil, err
	}
	for _, fi := range files {
		tf, err := loadFile(fi.RelPath, fi.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", fi.RelPath).Msg("failed to read file for review")
			continue
		}
		t.Files = append(t.Files, tf)
	}
	return t, nil
}

func loadFile(relPath, absPath string) (TargetFile, error) {
	b, err := os.ReadFile(absPath)
	if err != nil {
		return TargetFile{}, err
	}
	content := string(b)
	noEOF := len(content) > 0 && !strings.HasSuffix(content, "\n")
	return TargetFile{
		RelPath:      filepath.ToSlash(relPath),
		AbsPath:      absPath,
		Language:     fetch.GuessLang(relPath),
		Lines:        strings.Split(strings.TrimSuffix(content, "\n"), "\n"),
		NoEOFNewline: noEOF,
	}, nil
}

// reload refreshes content after an auto-fix rewrote files on disk.
func (t *Target) reload() {
	for i, tf := range t.Files {
		fresh, err := loadFile(tf.RelPath, tf.AbsPath)
		if err != nil {
			continue
		}
		t.Files[i] = fresh
	}
}

// stagedChanges returns the staged file names and the staged diff text.
func stagedChanges(ctx context.Context, git fetch.GitRunner, root string) ([]string, string, error) {
	out, err := git.Run(ctx, root, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, "", err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, "", nil
	}
	diff, err := git.Run(ctx, root, "diff", "--cached")
	if err != nil {
		return names, "", err
	}
	return names, diff, nil
}
