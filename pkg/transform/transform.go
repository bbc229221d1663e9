// Package transform applies per-organization rewrites to a manifest bundle
// before it is published.
package transform

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/omps/pkg/manifests"
)

// RewriteRule replaces registry references in manifest text.
type RewriteRule struct {
	Old    string `json:"old" mapstructure:"old"`
	New    string `json:"new" mapstructure:"new"`
	Regexp bool   `json:"regexp,omitempty" mapstructure:"regexp"`
}

func (r RewriteRule) String() string {
	if r.Regexp {
		return fmt.Sprintf("s/%s/%s/", r.Old, r.New)
	}
	return fmt.Sprintf("%q -> %q", r.Old, r.New)
}

type compiledRule struct {
	RewriteRule
	re *regexp.Regexp
}

func (r compiledRule) apply(s string) string {
	if r.re != nil {
		return r.re.ReplaceAllString(s, r.New)
	}
	return strings.ReplaceAll(s, r.Old, r.New)
}

// Compile checks that every regular expression rule compiles.
func Compile(rules []RewriteRule) error {
	_, err := compile(rules)
	return err
}

func compile(rules []RewriteRule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		c := compiledRule{RewriteRule: r}
		if r.Regexp {
			re, err := regexp.Compile(r.Old)
			if err != nil {
				return nil, fmt.Errorf("invalid registry replacement regexp %q: %v", r.Old, err)
			}
			c.re = re
		}
		compiled = append(compiled, c)
	}
	return compiled, nil
}

// Transformer rewrites bundles for one organization.
type Transformer struct {
	rules  []compiledRule
	suffix string
	logger logrus.FieldLogger
}

// New returns a Transformer applying rules in order and appending suffix to
// repository names.
func New(rules []RewriteRule, suffix string, logger logrus.FieldLogger) (*Transformer, error) {
	compiled, err := compile(rules)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transformer{rules: compiled, suffix: suffix, logger: logger}, nil
}

// Repository returns the registry repository name for name. The suffix is
// not appended twice.
func (t *Transformer) Repository(name string) string {
	if t.suffix == "" || strings.HasSuffix(name, t.suffix) {
		return name
	}
	return name + t.suffix
}

// Apply copies b into dest and rewrites the copy's YAML files. b is never
// modified. With no rules dest is an untouched copy.
func (t *Transformer) Apply(b *manifests.Bundle, dest string) (*manifests.Bundle, error) {
	if err := copy.Copy(b.Dir, dest); err != nil {
		return nil, fmt.Errorf("failed to copy manifests: %v", err)
	}

	out, err := manifests.Load(dest)
	if err != nil {
		return nil, err
	}
	if len(t.rules) == 0 {
		return out, nil
	}

	for _, rel := range out.Files {
		if !manifests.IsYAML(rel) {
			continue
		}
		if err := t.rewriteFile(filepath.Join(dest, filepath.FromSlash(rel))); err != nil {
			return nil, err
		}
	}
	return manifests.Load(dest)
}

func (t *Transformer) rewriteFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return err
	}

	original := string(data)
	text := original
	for _, r := range t.rules {
		text = r.apply(text)
	}
	if text == original {
		return nil
	}

	t.logger.WithField("file", filepath.Base(path)).Debug("replaced registry references")
	return os.WriteFile(path, []byte(text), 0644)
}
