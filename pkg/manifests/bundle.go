// Package manifests turns uploaded or downloaded archives into manifest
// bundles on disk.
package manifests

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"k8s.io/apimachinery/pkg/util/yaml"

	"github.com/operator-framework/omps/pkg/apierrors"
)

var yamlGlob = glob.MustCompile("*.{yaml,yml}")

// IsYAML reports whether name looks like a YAML manifest.
func IsYAML(name string) bool {
	return yamlGlob.Match(strings.ToLower(filepath.Base(name)))
}

// Bundle is a directory of operator manifests.
type Bundle struct {
	// Dir is the bundle root.
	Dir string
	// Files holds the slash separated paths of every regular file below
	// Dir, relative to Dir and sorted.
	Files []string

	packageName string
}

// Load reads the bundle rooted at dir. The bundle must hold at least one
// package descriptor, a YAML document with a top level packageName.
func Load(dir string) (*Bundle, error) {
	b := &Bundle{Dir: dir}
	if err := (dirWalker{}).WalkFiles(dir, func(rel string, _ io.Reader) error {
		b.Files = append(b.Files, rel)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to list manifests in %s: %v", dir, err)
	}
	sort.Strings(b.Files)

	name, err := findPackageName(dir)
	if err != nil {
		return nil, err
	}
	b.packageName = name
	return b, nil
}

// PackageName returns the packageName of the first package descriptor.
func (b *Bundle) PackageName() string {
	return b.packageName
}

// WalkYAML calls f for every YAML file of the bundle in path order.
func (b *Bundle) WalkYAML(f func(rel string, r io.Reader) error) error {
	return (dirWalker{}).WalkFiles(b.Dir, func(rel string, r io.Reader) error {
		if !IsYAML(rel) {
			return nil
		}
		return f(rel, r)
	})
}

func findPackageName(dir string) (string, error) {
	var name string
	err := (dirWalker{}).WalkFiles(dir, func(rel string, r io.Reader) error {
		if name != "" || !IsYAML(rel) {
			return nil
		}
		var doc interface{}
		if err := yaml.NewYAMLOrJSONDecoder(r, 30).Decode(&doc); err != nil {
			if err == io.EOF {
				return nil
			}
			return apierrors.Wrap(apierrors.PackageValidation, err, "Failed to parse %s", rel)
		}
		// lists and scalars cannot declare a package
		m, ok := doc.(map[string]interface{})
		if !ok {
			return nil
		}
		if n, ok := m["packageName"].(string); ok && n != "" {
			name = n
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", apierrors.New(apierrors.PackageValidation,
			"Could not find packageName in manifests: no package descriptor found")
	}
	return name, nil
}

type dirWalker struct{}

// WalkFiles visits regular files below root in lexical order, passing the
// slash separated path relative to root.
func (w dirWalker) WalkFiles(root string, f func(string, io.Reader) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		return f(filepath.ToSlash(rel), file)
	})
}
