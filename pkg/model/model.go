package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blang/semver"
	"github.com/h2non/filetype"
	svg "github.com/h2non/go-is-svg"
	"github.com/hashicorp/go-multierror"
	"k8s.io/apimachinery/pkg/util/validation"
)

// PackageManifest is the package descriptor of an operator bundle.
type PackageManifest struct {
	PackageName    string          `json:"packageName" yaml:"packageName"`
	Channels       []ChannelRecord `json:"channels" yaml:"channels"`
	DefaultChannel string          `json:"defaultChannel,omitempty" yaml:"defaultChannel,omitempty"`
}

// ChannelRecord names the CSV a channel currently points to.
type ChannelRecord struct {
	Name       string `json:"name" yaml:"name"`
	CurrentCSV string `json:"currentCSV" yaml:"currentCSV"`
}

// Package links a package manifest with the CSVs and CRDs shipped next to it.
type Package struct {
	Name           string
	DefaultChannel *Channel
	Channels       map[string]*Channel
	CSVs           map[string]*CSV
	CRDs           map[string]*CRD
}

// NewPackage links pm with csvs and crds. Every channel gets the CSVs
// reachable from its current CSV through replaces and skips. A package with
// a single channel and no explicit default uses that channel as default.
func NewPackage(pm PackageManifest, csvs []*CSV, crds []*CRD) *Package {
	pkg := &Package{
		Name:     pm.PackageName,
		Channels: map[string]*Channel{},
		CSVs:     map[string]*CSV{},
		CRDs:     map[string]*CRD{},
	}
	for _, csv := range csvs {
		pkg.CSVs[csv.Name] = csv
	}
	for _, crd := range crds {
		pkg.CRDs[crd.Name] = crd
	}

	for _, rec := range pm.Channels {
		ch := &Channel{Package: pkg, Name: rec.Name, CurrentCSV: rec.CurrentCSV, Bundles: map[string]*CSV{}}
		ch.link(rec.CurrentCSV)
		pkg.Channels[rec.Name] = ch
	}

	switch {
	case pm.DefaultChannel != "":
		pkg.DefaultChannel = pkg.Channels[pm.DefaultChannel]
		if pkg.DefaultChannel == nil {
			pkg.DefaultChannel = &Channel{Name: pm.DefaultChannel}
		}
	case len(pkg.Channels) == 1:
		for _, ch := range pkg.Channels {
			pkg.DefaultChannel = ch
		}
	}
	return pkg
}

func (m *Package) Validate() error {
	if m.Name == "" {
		return errors.New("package name must not be empty")
	}
	if len(m.Channels) == 0 {
		return fmt.Errorf("package %q has no channels", m.Name)
	}
	if m.DefaultChannel == nil {
		return fmt.Errorf("default channel must be set")
	}

	var errs *multierror.Error
	foundDefault := false
	for _, name := range sortedKeys(m.Channels) {
		ch := m.Channels[name]
		if err := ch.Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid channel %q: %v", ch.Name, err))
		}
		if ch == m.DefaultChannel {
			foundDefault = true
		}
		if ch.Package != m {
			errs = multierror.Append(errs, fmt.Errorf("channel %q not correctly linked to parent package", ch.Name))
		}
		if name != ch.Name {
			errs = multierror.Append(errs, fmt.Errorf("channel key %q does not match channel name %q", name, ch.Name))
		}
	}
	if !foundDefault {
		errs = multierror.Append(errs, fmt.Errorf("default channel %q not found in channels list", m.DefaultChannel.Name))
	}

	for _, name := range sortedKeys(m.CSVs) {
		if err := m.validateCSV(m.CSVs[name]); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid csv %q: %v", name, err))
		}
	}
	for _, name := range sortedKeys(m.CRDs) {
		if err := m.CRDs[name].Validate(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("invalid crd %q: %v", name, err))
		}
	}
	return errs.ErrorOrNil()
}

func (m *Package) validateCSV(csv *CSV) error {
	if err := csv.Validate(); err != nil {
		return err
	}
	for _, owned := range csv.Owned {
		crd, ok := m.CRDs[owned.Name]
		if !ok {
			return fmt.Errorf("owned crd %q not found in bundle", owned.Name)
		}
		if !crd.Provides(owned.GroupVersionKind) {
			return fmt.Errorf("owned crd %q does not serve version %q of kind %q", owned.Name, owned.Version, owned.Kind)
		}
	}
	return nil
}

type Icon struct {
	Data      []byte
	MediaType string
}

func (i *Icon) Validate() error {
	if i == nil {
		return nil
	}
	if len(i.Data) == 0 {
		return errors.New("icon data must be set if icon is defined")
	}
	return i.validateData()
}

func (i *Icon) validateData() error {
	if i.MediaType == "image/svg+xml" {
		if !svg.IsSVG(i.Data) {
			return fmt.Errorf("icon media type %q does not match data", i.MediaType)
		}
		return nil
	}
	if !filetype.IsImage(i.Data) {
		return errors.New("icon data is not an image")
	}
	t, err := filetype.Match(i.Data)
	if err != nil {
		return err
	}
	if t.MIME.Value != i.MediaType {
		return fmt.Errorf("icon media type %q does not match detected media type %q", i.MediaType, t.MIME.Value)
	}
	return nil
}

// Channel is an upgrade channel. Bundles holds the CSVs reachable from
// CurrentCSV.
type Channel struct {
	Package    *Package
	Name       string
	CurrentCSV string
	Bundles    map[string]*CSV
}

func (c *Channel) link(name string) {
	csv, ok := c.Package.CSVs[name]
	if !ok {
		return
	}
	if _, seen := c.Bundles[name]; seen {
		return
	}
	c.Bundles[name] = csv
	if csv.Replaces != "" {
		c.link(csv.Replaces)
	}
	for _, skip := range csv.Skips {
		c.link(skip)
	}
}

// Head finds the bundle with no incoming edges based on replaces, skips and
// skipRange. Exactly one such bundle must exist.
func (c Channel) Head() (*CSV, error) {
	incoming := map[string]int{}
	for _, b := range c.Bundles {
		if b.Replaces != "" {
			incoming[b.Replaces] += 1
		}
		for _, skip := range b.Skips {
			incoming[skip] += 1
		}
		if b.SkipRange != "" {
			skipRange, err := semver.ParseRange(b.SkipRange)
			if err != nil {
				return nil, fmt.Errorf("invalid skip range %q for bundle %q: %v", b.SkipRange, b.Name, err)
			}
			for _, skipCandidate := range c.Bundles {
				if skipCandidate == b {
					continue
				}
				version, err := semver.Parse(skipCandidate.Version)
				if err != nil {
					return nil, fmt.Errorf("invalid version %q for bundle %q: %v", skipCandidate.Version, skipCandidate.Name, err)
				}
				if skipRange(version) {
					incoming[skipCandidate.Name] += 1
				}
			}
		}
	}
	var heads []*CSV
	for _, name := range sortedKeys(c.Bundles) {
		if _, ok := incoming[name]; !ok {
			heads = append(heads, c.Bundles[name])
		}
	}
	if len(heads) == 0 {
		return nil, fmt.Errorf("no channel head found in graph")
	}
	if len(heads) > 1 {
		var headNames []string
		for _, head := range heads {
			headNames = append(headNames, head.Name)
		}
		return nil, fmt.Errorf("multiple channel heads found in graph: %s", strings.Join(headNames, ", "))
	}
	return heads[0], nil
}

func (c *Channel) Validate() error {
	if c.Name == "" {
		return errors.New("channel name must not be empty")
	}
	if c.Package == nil {
		return errors.New("package must be set")
	}
	if c.CurrentCSV == "" {
		return errors.New("currentCSV must be set")
	}
	if _, ok := c.Bundles[c.CurrentCSV]; !ok {
		return fmt.Errorf("currentCSV %q not found in bundle", c.CurrentCSV)
	}

	head, err := c.Head()
	if err != nil {
		return err
	}
	if head.Name != c.CurrentCSV {
		return fmt.Errorf("channel head %q is not the currentCSV %q", head.Name, c.CurrentCSV)
	}
	return nil
}

// CSV is the part of a ClusterServiceVersion the upgrade graph needs.
type CSV struct {
	Name      string
	Version   string
	Replaces  string
	Skips     []string
	SkipRange string
	Icon      *Icon
	Owned     []OwnedCRD
}

// OwnedCRD is a custom resource a CSV declares ownership of.
type OwnedCRD struct {
	Name string
	GroupVersionKind
}

func (b *CSV) Validate() error {
	if b.Name == "" {
		return errors.New("name must be set")
	}
	version, err := semver.Parse(b.Version)
	if err != nil {
		return fmt.Errorf("invalid version %q: %v", b.Version, err)
	}

	if b.SkipRange != "" {
		skipRange, err := semver.ParseRange(b.SkipRange)
		if err != nil {
			return fmt.Errorf("invalid skipRange %q: %v", b.SkipRange, err)
		}
		if skipRange(version) {
			return fmt.Errorf("skipRange %q includes bundle's own version %q", b.SkipRange, b.Version)
		}
	}
	for i, skip := range b.Skips {
		if skip == "" {
			return fmt.Errorf("skip[%d] is empty", i)
		}
	}
	if err := b.Icon.Validate(); err != nil {
		return fmt.Errorf("invalid icon: %v", err)
	}
	return nil
}

// CRD is a CustomResourceDefinition and the kinds it serves.
type CRD struct {
	Name   string
	Served []GroupVersionKind
}

func (c *CRD) Validate() error {
	if c.Name == "" {
		return errors.New("name must be set")
	}
	if len(c.Served) == 0 {
		return errors.New("no versions served")
	}
	for i, gvk := range c.Served {
		if err := gvk.Validate(); err != nil {
			return fmt.Errorf("invalid version [%d]: %v", i, err)
		}
	}
	return nil
}

// Provides reports whether the CRD serves gvk. An empty group matches any.
func (c *CRD) Provides(gvk GroupVersionKind) bool {
	for _, served := range c.Served {
		if (gvk.Group == "" || served.Group == gvk.Group) && served.Version == gvk.Version && served.Kind == gvk.Kind {
			return true
		}
	}
	return false
}

type GroupVersionKind struct {
	Group   string
	Version string
	Kind    string
	Plural  string
}

func (gvk GroupVersionKind) Validate() error {
	if errs := validation.IsDNS1123Subdomain(gvk.Group); len(errs) != 0 {
		return fmt.Errorf("invalid group %q: %s", gvk.Group, strings.Join(errs, ", "))
	}
	if gvk.Version == "" {
		return fmt.Errorf("invalid version %q: must not be empty", gvk.Version)
	}
	if errs := validation.IsDNS1035Label(strings.ToLower(gvk.Kind)); len(errs) != 0 {
		return fmt.Errorf("invalid kind %q: %s", gvk.Kind, strings.Join(errs, ", "))
	}
	if gvk.Plural != "" {
		if errs := validation.IsDNS1035Label(gvk.Plural); len(errs) != 0 {
			return fmt.Errorf("invalid plural %q: %s", gvk.Plural, strings.Join(errs, ", "))
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
