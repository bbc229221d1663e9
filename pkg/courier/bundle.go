// Package courier builds the single-file bundle the application registry
// stores from a directory of operator manifests, verifies it and pushes it.
package courier

import (
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/blang/semver"
	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/operator-framework/api/pkg/operators"
	"github.com/sirupsen/logrus"
	yamlv2 "gopkg.in/yaml.v2"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/operator-framework/omps/pkg/apierrors"
	"github.com/operator-framework/omps/pkg/manifests"
	"github.com/operator-framework/omps/pkg/model"
)

const crdKind = "CustomResourceDefinition"

// Bundle is a verified operator package in the registry's bundle format.
type Bundle struct {
	Package *model.Package

	packages []interface{}
	crds     []interface{}
	csvs     []interface{}
}

type crdCandidate struct {
	dir string
	obj map[string]interface{}
}

// Build collects the package descriptor, CSVs and CRDs below the bundle
// root, flattening per-version subdirectories, and verifies the result.
// When several directories ship a CRD of the same name the copy from the
// highest version directory wins.
func Build(b *manifests.Bundle, logger logrus.FieldLogger) (*Bundle, error) {
	var (
		out      = &Bundle{}
		errs     *multierror.Error
		pm       model.PackageManifest
		csvs     []*model.CSV
		crdsSeen = map[string]crdCandidate{}
	)

	err := b.WalkYAML(func(rel string, r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %v", rel, err))
			return nil
		}
		obj, ok := doc.(map[string]interface{})
		if !ok {
			logger.WithField("file", rel).Debug("ignoring manifest that is not a mapping")
			return nil
		}

		if _, ok := obj["packageName"]; ok {
			if len(out.packages) > 0 {
				errs = multierror.Append(errs, fmt.Errorf("%s: more than one package descriptor", rel))
				return nil
			}
			if err := yaml.Unmarshal(data, &pm); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %v", rel, err))
				return nil
			}
			out.packages = append(out.packages, obj)
			return nil
		}

		u := &unstructured.Unstructured{Object: obj}
		switch u.GetKind() {
		case operators.ClusterServiceVersionKind:
			csv, err := model.CSVFromUnstructured(u)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %v", rel, err))
				return nil
			}
			csvs = append(csvs, csv)
			out.csvs = append(out.csvs, obj)
		case crdKind:
			name := u.GetName()
			dir := path.Dir(rel)
			if prev, ok := crdsSeen[name]; ok && !newerDir(dir, prev.dir) {
				return nil
			}
			crdsSeen[name] = crdCandidate{dir: dir, obj: obj}
		default:
			logger.WithField("file", rel).Debug("ignoring manifest of unknown kind")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var crds []*model.CRD
	for _, name := range sortedNames(crdsSeen) {
		obj := crdsSeen[name].obj
		crd, err := model.CRDFromUnstructured(&unstructured.Unstructured{Object: obj})
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		crds = append(crds, crd)
		out.crds = append(out.crds, obj)
	}

	if len(out.packages) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no package descriptor found"))
	} else {
		out.Package = model.NewPackage(pm, csvs, crds)
		if err := out.Package.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, apierrors.Wrap(apierrors.PackageValidation, err, "Operator bundle verification failed")
	}
	return out, nil
}

// newerDir reports whether dir should be preferred over prev: the higher
// version when both names are versions, otherwise the later path.
func newerDir(dir, prev string) bool {
	v, verr := semver.ParseTolerant(path.Base(dir))
	p, perr := semver.ParseTolerant(path.Base(prev))
	if verr == nil && perr == nil {
		return v.GT(p)
	}
	return dir > prev
}

func sortedNames(m map[string]crdCandidate) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// YAML renders bundle.yaml: a data map whose values are the YAML encoded
// lists of package descriptors, CRDs and CSVs.
func (b *Bundle) YAML() ([]byte, error) {
	data := yamlv2.MapSlice{}
	for _, section := range []struct {
		key   string
		items []interface{}
	}{
		{"customResourceDefinitions", b.crds},
		{"clusterServiceVersions", b.csvs},
		{"packages", b.packages},
	} {
		items := section.items
		if items == nil {
			items = []interface{}{}
		}
		encoded, err := yamlv2.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %v", section.key, err)
		}
		data = append(data, yamlv2.MapItem{Key: section.key, Value: string(encoded)})
	}
	return yamlv2.Marshal(yamlv2.MapSlice{{Key: "data", Value: data}})
}
