package walker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"catalogpipe/internal/mediatypes"
	"catalogpipe/internal/metrics"
)

// Options controls what a Walk call returns, grounded on Library.settings:
// allowed formats, exclusion globs, and a max file size.
type Options struct {
	AllowedFormats map[string]bool // lowercased extensions without the dot; nil/empty means mediatypes default
	ExcludedPaths  []string        // doublestar glob patterns matched against the path relative to Root
	MaxFileSize    int64           // bytes; 0 means unlimited
}

// File is one discovered media file, relative to the walk root.
type File struct {
	RelativePath string
	Size         int64
	ModTime      int64 // unix seconds
	Kind         mediatypes.Kind
}

// Walk recursively traverses root and returns every matching media file in
// stable lexicographic, case-folded order. Directories are also subject to
// exclusion matching, pruning a whole subtree when matched.
func Walk(root string, opts Options) ([]File, error) {
	var files []File

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // transient I/O on one entry must not abort the whole walk; §7
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if matchesAnyExclusion(rel, opts.ExcludedPaths) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		ext := mediatypes.NormalizeExt(filepath.Ext(path))
		if !isAllowed(ext, opts.AllowedFormats) {
			return nil
		}
		kind := mediatypes.KindOf(ext)
		if kind == "" {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if opts.MaxFileSize > 0 && info.Size() > opts.MaxFileSize {
			return nil
		}

		files = append(files, File{
			RelativePath: rel,
			Size:         info.Size(),
			ModTime:      info.ModTime().Unix(),
			Kind:         kind,
		})
		metrics.WalkerFilesScanned.WithLabelValues("scan").Inc()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i].RelativePath) < strings.ToLower(files[j].RelativePath)
	})
	return files, nil
}

func isAllowed(ext string, allowed map[string]bool) bool {
	if len(allowed) == 0 {
		return mediatypes.IsMediaFile(ext)
	}
	return allowed[strings.TrimPrefix(ext, ".")]
}

func matchesAnyExclusion(rel string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// WalkOneLevel lists the immediate subdirectories and archive files of root
// without recursing — used by the Scan Coordinator to discover collection
// candidates.
func WalkOneLevel(root string, opts Options) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", root, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if matchesAnyExclusion(e.Name(), opts.ExcludedPaths) {
			continue
		}
		if e.IsDir() {
			names = append(names, e.Name())
			continue
		}
		ext := mediatypes.NormalizeExt(filepath.Ext(e.Name()))
		if mediatypes.KindOfArchive(ext) != "" {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return strings.ToLower(names[i]) < strings.ToLower(names[j]) })
	return names, nil
}
