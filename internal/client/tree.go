package client

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

// ParseArgs checks that every argument exists and classifies it.
func ParseArgs(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<paths>", Cause: "no files provided"}
	}

	var out []ParsedPath

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		kind := PathFile
		if info.IsDir() {
			kind = PathDir
		} else if !info.Mode().IsRegular() {
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file"}
		}

		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}

// Node is a local file or directory to mirror into the drive.
type Node struct {
	Path     string
	Name     string
	Size     int64
	Dir      bool
	Children []*Node
}

// Count returns the number of files and directories at or below n.
func (n *Node) Count() (files, dirs int) {
	if !n.Dir {
		return 1, 0
	}
	dirs = 1
	for _, c := range n.Children {
		f, d := c.Count()
		files += f
		dirs += d
	}
	return files, dirs
}

// BuildTree walks every parsed path. Hidden entries (leading '.') inside
// directories are skipped; symlinks and other special files are ignored.
func BuildTree(paths []ParsedPath) ([]*Node, error) {
	var roots []*Node

	for _, p := range paths {
		if p.Kind == PathDir {
			dir, err := buildDirTree(p.FullPath)
			if err != nil {
				return nil, err
			}
			roots = append(roots, dir)
			continue
		}

		info, err := os.Stat(p.FullPath)
		if err != nil {
			return nil, err
		}
		roots = append(roots, &Node{
			Path: p.FullPath,
			Name: filepath.Base(p.FullPath),
			Size: info.Size(),
		})
	}

	if len(roots) == 0 {
		return nil, fmt.Errorf("no valid paths provided")
	}
	return roots, nil
}

func buildDirTree(dirPath string) (*Node, error) {
	name := filepath.Base(dirPath)
	if abs, err := filepath.Abs(dirPath); err == nil {
		name = filepath.Base(abs)
	}
	dir := &Node{
		Path: dirPath,
		Name: name,
		Dir:  true,
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			child, err := buildDirTree(childPath)
			if err != nil {
				return nil, err
			}
			dir.Children = append(dir.Children, child)
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				return nil, err
			}
			dir.Children = append(dir.Children, &Node{
				Path: childPath,
				Name: entry.Name(),
				Size: info.Size(),
			})
		}
	}

	// Directories first, then files, each by name.
	sort.SliceStable(dir.Children, func(i, j int) bool {
		a, b := dir.Children[i], dir.Children[j]
		if a.Dir != b.Dir {
			return a.Dir
		}
		return a.Name < b.Name
	})

	return dir, nil
}
