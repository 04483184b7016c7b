// Package resolver maps raw request paths onto the shared directory.
//
// A request path is normalized into a traversal-free relative path, joined
// onto the base directory and classified as a file, a directory served through
// an index file, a directory listing, or not found. Filesystem failures never
// escape as errors; they resolve to NotFound with the cause attached for
// logging.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DefaultIndexFiles is used when no index file names are configured.
var DefaultIndexFiles = []string{"index.html"}

var (
	// ErrOutsideBase is recorded when a joined path would leave the base
	// directory. Normalization makes this unreachable in practice.
	ErrOutsideBase = errors.New("path resolves outside the base directory")
	// ErrUnsupportedType is recorded for entries that are neither regular
	// files nor directories, symlinks included.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Kind is the outcome of resolving a path.
type Kind int

const (
	NotFound Kind = iota
	File
	DirectoryIndex
	DirectoryListing
)

func (k Kind) String() string {
	switch k {
	case File:
		return "file"
	case DirectoryIndex:
		return "directory-index"
	case DirectoryListing:
		return "directory-listing"
	default:
		return "not-found"
	}
}

// Entry is one line of a directory listing. URL is the unescaped absolute
// request path of the entry; directories carry a trailing slash.
type Entry struct {
	Name  string
	IsDir bool
	URL   string
}

// Resolved describes how a single request path maps onto the filesystem.
type Resolved struct {
	Original   string // raw request target as received
	Normalized string // relative, slash separated, no leading or trailing slash
	Kind       Kind

	AbsPath   string      // candidate path under the base directory
	ServePath string      // file to stream for File and DirectoryIndex
	Info      os.FileInfo // of ServePath, when known

	Dirs  []Entry
	Files []Entry

	// Err holds the reason for a NotFound outcome, if any.
	Err error
}

// URLPath returns the normalized path in request form, always starting with "/".
func (r *Resolved) URLPath() string {
	return "/" + r.Normalized
}

// ParentURL returns the request path of the parent directory. ok is false at
// the root, which has no parent.
func (r *Resolved) ParentURL() (parent string, ok bool) {
	if r.Normalized == "" {
		return "", false
	}
	dir := path.Dir(r.Normalized)
	if dir == "." {
		return "/", true
	}
	return "/" + dir + "/", true
}

// Normalize reduces a raw request target to a relative slash separated path
// that cannot climb above the root. The query and fragment are dropped,
// percent escapes are decoded and "." and ".." segments are collapsed
// wherever they occur. Backslashes are separators only where the host
// filesystem treats them as such; elsewhere they are ordinary name bytes.
func Normalize(rawPath string) (string, error) {
	return normalize(rawPath, filepath.Separator == '\\')
}

func normalize(rawPath string, backslashIsSeparator bool) (string, error) {
	p := rawPath
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", err
	}
	if backslashIsSeparator {
		decoded = strings.ReplaceAll(decoded, `\`, "/")
	}
	return strings.Trim(path.Clean("/"+decoded), "/"), nil
}

// Resolver resolves request paths against one base directory.
type Resolver struct {
	base       string
	indexFiles []string

	// collate.Collator keeps internal buffers and is not safe for concurrent use.
	mu       sync.Mutex
	collator *collate.Collator
}

// New returns a Resolver rooted at base. indexFiles are checked in order; an
// empty list means DefaultIndexFiles.
func New(base string, indexFiles []string) *Resolver {
	abs, err := filepath.Abs(base)
	if err != nil {
		abs = filepath.Clean(base)
	}
	if len(indexFiles) == 0 {
		indexFiles = DefaultIndexFiles
	}
	return &Resolver{
		base:       abs,
		indexFiles: append([]string(nil), indexFiles...),
		collator:   collate.New(language.Und, collate.Loose),
	}
}

// Base returns the absolute base directory.
func (r *Resolver) Base() string { return r.base }

// IndexFiles returns the configured index file names in priority order.
func (r *Resolver) IndexFiles() []string {
	return append([]string(nil), r.indexFiles...)
}

// Resolve classifies rawPath. It never returns nil.
func (r *Resolver) Resolve(rawPath string) *Resolved {
	res := &Resolved{Original: rawPath, Kind: NotFound}

	normalized, err := Normalize(rawPath)
	if err != nil {
		res.Err = fmt.Errorf("decoding request path: %w", err)
		return res
	}
	res.Normalized = normalized

	candidate := filepath.Join(r.base, filepath.FromSlash(normalized))
	if !r.contains(candidate) {
		res.Err = fmt.Errorf("%s: %w", candidate, ErrOutsideBase)
		return res
	}
	res.AbsPath = candidate

	fi, err := os.Lstat(candidate)
	if err != nil {
		res.Err = err
		return res
	}

	switch {
	case fi.Mode().IsRegular():
		res.Kind = File
		res.ServePath = candidate
		res.Info = fi
	case fi.IsDir():
		r.resolveDir(res)
	default:
		res.Err = fmt.Errorf("%s (%s): %w", candidate, fi.Mode().Type(), ErrUnsupportedType)
	}
	return res
}

func (r *Resolver) resolveDir(res *Resolved) {
	entries, err := os.ReadDir(res.AbsPath)
	if err != nil {
		res.Err = err
		return
	}

	// Index names are tried in configured order, not directory order.
	for _, name := range r.indexFiles {
		for _, e := range entries {
			if e.Name() != name || !e.Type().IsRegular() {
				continue
			}
			res.Kind = DirectoryIndex
			res.ServePath = filepath.Join(res.AbsPath, name)
			if info, err := e.Info(); err == nil {
				res.Info = info
			}
			return
		}
	}

	prefix := "/"
	if res.Normalized != "" {
		prefix = "/" + res.Normalized + "/"
	}
	for _, e := range entries {
		entry := Entry{Name: e.Name(), IsDir: e.IsDir(), URL: prefix + e.Name()}
		if entry.IsDir {
			entry.URL += "/"
			res.Dirs = append(res.Dirs, entry)
		} else {
			res.Files = append(res.Files, entry)
		}
	}
	r.sortEntries(res.Dirs)
	r.sortEntries(res.Files)
	res.Kind = DirectoryListing
}

func (r *Resolver) sortEntries(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sort.SliceStable(entries, func(i, j int) bool {
		if c := r.collator.CompareString(entries[i].Name, entries[j].Name); c != 0 {
			return c < 0
		}
		return entries[i].Name < entries[j].Name
	})
}

func (r *Resolver) contains(p string) bool {
	rel, err := filepath.Rel(r.base, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
