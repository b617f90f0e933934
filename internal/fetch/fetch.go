package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
)

// FetchError marks a repository that could not be obtained: unreachable
// remote, auth failure, or a path that is not a repository at all. It is
// fatal to the operation that triggered the fetch.
type FetchError struct {
	Repo string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Repo, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// WorkingCopy is a checked-out repository on local disk.
type WorkingCopy struct {
	Root       string
	Repository string // collection identifier derived from the URL or path
}

// File is one candidate for indexing or review.
type File struct {
	Path     string // absolute
	RelPath  string
	Language string
}

// GitRunner executes git commands; injected so tests avoid real clones.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGitRunner shells out to the git binary.
type ExecGitRunner struct{}

func (ExecGitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var out, errb bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &errb
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errb.String()))
	}
	return out.String(), nil
}

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Fetcher obtains working copies and enumerates their indexable files.
// Remote repositories are cached under ReposDir and refreshed with a pull on
// reuse; local directory paths are used in place.
type Fetcher struct {
	ReposDir     string
	MaxFileBytes int
	Git          GitRunner
	Walker       FileSystemWalker
	FileReader   FileReader
}

func New(reposDir string, maxFileBytes int) *Fetcher {
	return &Fetcher{
		ReposDir:     reposDir,
		MaxFileBytes: maxFileBytes,
		Git:          ExecGitRunner{},
		Walker:       &DefaultFileSystemWalker{},
		FileReader:   &DefaultFileReader{},
	}
}

// RepositoryID maps a URL or path to the stable collection identifier:
// scheme stripped, path separators flattened.
func RepositoryID(urlOrPath string) string {
	s := strings.TrimSuffix(strings.TrimRight(urlOrPath, "/"), ".git")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "git@")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

// Fetch resolves urlOrPath to a working copy. An existing local directory is
// used as-is; anything else is treated as a git URL, cloned on first use and
// pulled on subsequent ones. Pull failures are tolerated: the cached copy
// still serves.
func (f *Fetcher) Fetch(ctx context.Context, urlOrPath string) (WorkingCopy, error) {
	repo := RepositoryID(urlOrPath)

	if fi, err := os.Stat(urlOrPath); err == nil && fi.IsDir() {
		return WorkingCopy{Root: urlOrPath, Repository: repo}, nil
	}

	if !strings.Contains(urlOrPath, "://") && !strings.HasPrefix(urlOrPath, "git@") {
		return WorkingCopy{}, &FetchError{Repo: urlOrPath, Err: fmt.Errorf("not a directory or git URL")}
	}

	if err := os.MkdirAll(f.ReposDir, 0o755); err != nil {
		return WorkingCopy{}, &FetchError{Repo: urlOrPath, Err: err}
	}

	// Keyed by repository id, not the URL's last segment, so repositories
	// that share a name never share a clone.
	dest := filepath.Join(f.ReposDir, repo)

	if _, err := os.Stat(dest); os.IsNotExist(err) {
		log.Info().Str("url", urlOrPath).Str("dest", dest).Msg("cloning repository")
		if _, err := f.Git.Run(ctx, "", "clone", urlOrPath, dest); err != nil {
			return WorkingCopy{}, &FetchError{Repo: urlOrPath, Err: err}
		}
	} else {
		log.Info().Str("dest", dest).Msg("repository cached, pulling latest")
		if _, err := f.Git.Run(ctx, dest, "pull"); err != nil {
			log.Warn().Err(err).Str("dest", dest).Msg("pull failed, using cached copy")
		}
	}

	return WorkingCopy{Root: dest, Repository: repo}, nil
}

// ListFiles enumerates text-like files under root, applying the vendor/lock
// path filters, the size ceiling, and a binary-content sniff.
func (f *Fetcher) ListFiles(root string) ([]File, error) {
	var files []File
	err := f.Walker.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				if shouldSkipDir(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if ShouldSkip(path) {
				return nil
			}
			if fi, err := os.Stat(path); err == nil && f.MaxFileBytes > 0 && fi.Size() > int64(f.MaxFileBytes) {
				return nil
			}
			b, err := f.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}
			if isBinary(b) {
				return nil
			}
			files = append(files, File{
				Path:     path,
				RelPath:  rel(root, path),
				Language: GuessLang(path),
			})
			return nil
		},
	})
	return files, err
}

// ReadFile reads one file through the injected reader.
func (f *Fetcher) ReadFile(path string) (string, error) {
	b, err := f.FileReader.ReadFile(path)
	return string(b), err
}

func shouldSkipDir(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	switch base {
	case ".git", ".terraform", "node_modules", "vendor", "target", "dist",
		"__pycache__", ".pytest_cache", ".gradle", ".m2", ".idea",
		".venv", "venv", "coverage", ".cache":
		return true
	}
	return false
}

// ShouldSkip returns true if the file at path should be skipped.
func ShouldSkip(path string) bool {
	p := strings.ToLower(path)
	if strings.Contains(p, "/vendor/") ||
		strings.Contains(p, "/.git/") ||
		strings.Contains(p, "/.terraform/") ||
		strings.Contains(p, "/node_modules/") ||
		strings.Contains(p, "/target/") ||
		strings.Contains(p, "/build/") ||
		strings.Contains(p, "/dist/") ||
		strings.Contains(p, "/out/") ||
		strings.Contains(p, "/bin/") ||
		strings.Contains(p, "/obj/") ||
		strings.Contains(p, "/.venv/") ||
		strings.Contains(p, "/venv/") ||
		strings.Contains(p, "/__pycache__/") ||
		strings.Contains(p, "/.pytest_cache/") ||
		strings.Contains(p, "/.gradle/") ||
		strings.Contains(p, "/.m2/") ||
		strings.Contains(p, "/.idea/") ||
		strings.Contains(p, "/coverage/") ||
		strings.Contains(p, "/.cache/") {
		return true
	}
	switch filepath.Ext(p) {
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".webp", ".lock", ".zip",
		".svg", ".exe", ".dll", ".sum", ".ico", ".woff", ".woff2", ".ttf",
		".gz", ".tar", ".jar", ".class", ".so", ".dylib":
		return true
	}
	return false
}

func isBinary(b []byte) bool {
	n := len(b)
	if n > 8000 {
		n = 8000
	}
	return bytes.IndexByte(b[:n], 0) >= 0
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(r)
}

// GuessLang infers the language tag stored with a chunk from the extension.
func GuessLang(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sh":
		return "shell"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".md":
		return "markdown"
	case ".tf":
		return "terraform"
	case ".js":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".rs":
		return "rust"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}
