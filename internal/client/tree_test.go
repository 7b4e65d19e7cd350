package client

import (
	"os"
	"path/filepath"
	"testing"
)

func createStructure(t *testing.T, basePath string, structure map[string]interface{}) {
	t.Helper()
	for name, content := range structure {
		path := filepath.Join(basePath, name)

		switch v := content.(type) {
		case string:
			if err := os.WriteFile(path, []byte(v), 0644); err != nil {
				t.Fatalf("failed to create file %s: %v", path, err)
			}
		case map[string]interface{}:
			if err := os.Mkdir(path, 0755); err != nil {
				t.Fatalf("failed to create directory %s: %v", path, err)
			}
			createStructure(t, path, v)
		default:
			t.Fatalf("unsupported structure type for %s", name)
		}
	}
}

func assertValidationError(t *testing.T, err error, expectedArg string, expectedCause string) {
	t.Helper()
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if expectedArg != "" && validationErr.Arg != expectedArg {
		t.Errorf("expected Arg to be %q, got %q", expectedArg, validationErr.Arg)
	}
	if expectedCause != "" && validationErr.Cause != expectedCause {
		t.Errorf("expected Cause to be %q, got %q", expectedCause, validationErr.Cause)
	}
}

func TestParseArgs(t *testing.T) {
	t.Run("empty args returns error", func(t *testing.T) {
		result, err := ParseArgs([]string{})
		if result != nil {
			t.Error("expected nil result for empty args")
		}
		assertValidationError(t, err, "<paths>", "no files provided")
	})

	t.Run("file and directory", func(t *testing.T) {
		root := t.TempDir()
		createStructure(t, root, map[string]interface{}{
			"a.txt": "a",
			"docs":  map[string]interface{}{},
		})

		result, err := ParseArgs([]string{filepath.Join(root, "a.txt"), filepath.Join(root, "docs") + "/"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result) != 2 {
			t.Fatalf("expected 2 results, got %d", len(result))
		}
		if result[0].Kind != PathFile {
			t.Errorf("expected a.txt to be a file")
		}
		if result[1].Kind != PathDir || result[1].FullPath != filepath.Join(root, "docs") {
			t.Errorf("expected cleaned directory path, got %+v", result[1])
		}
	})

	t.Run("missing path", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope.txt")
		_, err := ParseArgs([]string{missing})
		assertValidationError(t, err, missing, "not found or not accessible")
	})
}

func TestBuildTree(t *testing.T) {
	root := t.TempDir()
	createStructure(t, root, map[string]interface{}{
		"project": map[string]interface{}{
			"README.md": "# readme",
			".git": map[string]interface{}{
				"HEAD": "ref",
			},
			"src": map[string]interface{}{
				"main.go": "package main",
				"util": map[string]interface{}{
					"strings.go": "package util",
				},
			},
			"empty": map[string]interface{}{},
		},
		"notes.txt": "hello",
	})

	paths, err := ParseArgs([]string{filepath.Join(root, "project"), filepath.Join(root, "notes.txt")})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	roots, err := BuildTree(paths)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}

	project := roots[0]
	if !project.Dir || project.Name != "project" {
		t.Fatalf("unexpected first root %+v", project)
	}
	files, dirs := project.Count()
	if files != 3 || dirs != 4 {
		t.Errorf("expected 3 files and 4 dirs (hidden skipped), got %d and %d", files, dirs)
	}

	// Directories sort before files.
	var names []string
	for _, c := range project.Children {
		names = append(names, c.Name)
	}
	want := []string{"empty", "src", "README.md"}
	if len(names) != len(want) {
		t.Fatalf("expected children %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("child %d: expected %s, got %s", i, want[i], names[i])
		}
	}

	notes := roots[1]
	if notes.Dir || notes.Size != int64(len("hello")) {
		t.Errorf("unexpected file node %+v", notes)
	}
}

func TestBuildTree_Empty(t *testing.T) {
	if _, err := BuildTree(nil); err == nil {
		t.Fatal("expected error for no paths")
	}
}
