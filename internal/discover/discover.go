// Package discover enumerates compiled class files under unpacked package
// trees. Enumeration order is deterministic (sorted by relative path) so
// content hashes and fact insertion order are reproducible.
package discover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ignoreDirs are directory names skipped during walks. Unpacked archives
// occasionally carry tool metadata next to the bytecode.
var ignoreDirs = map[string]bool{
	".git": true, ".gradle": true, ".idea": true, ".svn": true,
	"META-INF": true, "node_modules": true, "tmp": true,
}

// FileInfo is one discovered class file.
type FileInfo struct {
	Path    string // absolute path
	RelPath string // relative to the classes root, forward slashes
}

// ClassFiles walks a classes root and returns every .class file, sorted by
// relative path.
func ClassFiles(ctx context.Context, classesDir string) ([]FileInfo, error) {
	root, err := filepath.Abs(classesDir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var files []FileInfo
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			if ignoreDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".class") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: path, RelPath: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", classesDir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// PackageRoot resolves a package root directory into its classes and
// sources children. The sources child is "" when absent.
func PackageRoot(root string) (classesDir, sourcesDir string, err error) {
	classesDir = filepath.Join(root, "classes")
	if fi, err := os.Stat(classesDir); err != nil || !fi.IsDir() {
		return "", "", fmt.Errorf("package root %s has no classes directory", root)
	}
	sourcesDir = filepath.Join(root, "sources")
	if fi, err := os.Stat(sourcesDir); err != nil || !fi.IsDir() {
		sourcesDir = ""
	}
	return classesDir, sourcesDir, nil
}
