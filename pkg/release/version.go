// Package release implements the <int>.<int>.<int> release versions under
// which manifest bundles are stored in the registry.
package release

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"github.com/blang/semver"
)

const versionPattern = `^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)$`

var versionRegexp = regexp.MustCompile(versionPattern)

// Version is a release version. The zero value is 0.0.0.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64
}

// FormatError is returned when a string is not a release version.
type FormatError struct {
	Value string
}

func (e FormatError) Error() string {
	return fmt.Sprintf("version %q must be in format '<int>.<int>.<int>' (regexp %s)", e.Value, versionPattern)
}

// DuplicateVersionError is returned when the requested version already exists.
type DuplicateVersionError struct {
	Version Version
}

func (e DuplicateVersionError) Error() string {
	return fmt.Sprintf("version %s already exists", e.Version)
}

// OverflowError is returned when the latest version has the highest
// possible major component and no higher version can be picked.
type OverflowError struct {
	Latest Version
}

func (e OverflowError) Error() string {
	return fmt.Sprintf("no major version above %s exists, a version must be requested explicitly", e.Latest)
}

// Parse parses s. Only three dot separated decimal integers without leading
// zeros and without pre-release or build suffixes are accepted.
func Parse(s string) (Version, error) {
	if !versionRegexp.MatchString(s) {
		return Version{}, FormatError{Value: s}
	}
	sv, err := semver.Parse(s)
	if err != nil {
		// components overflowing uint64
		return Version{}, FormatError{Value: s}
	}
	return Version{Major: sv.Major, Minor: sv.Minor, Patch: sv.Patch}, nil
}

// MustParse is like Parse but panics if s is not a release version.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return v.semver().String()
}

func (v Version) semver() semver.Version {
	return semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch}
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or greater than o.
func (v Version) Compare(o Version) int {
	return v.semver().Compare(o.semver())
}

// BumpMajor returns the next major version with minor and patch reset.
func (v Version) BumpMajor() Version {
	return Version{Major: v.Major + 1}
}

// Releases is a set of versions known to exist in a repository.
type Releases []Version

// ParseReleases parses the raw release strings reported by the registry.
// Strings that are not release versions are returned separately and take no
// part in version resolution.
func ParseReleases(raw []string) (Releases, []string) {
	var (
		valid   Releases
		invalid []string
	)
	for _, r := range raw {
		v, err := Parse(r)
		if err != nil {
			invalid = append(invalid, r)
			continue
		}
		valid = append(valid, v)
	}
	return valid, invalid
}

// Contains reports whether v is in the set.
func (r Releases) Contains(v Version) bool {
	for _, e := range r {
		if e.Compare(v) == 0 {
			return true
		}
	}
	return false
}

// Latest returns the highest version in the set.
func (r Releases) Latest() (Version, bool) {
	if len(r) == 0 {
		return Version{}, false
	}
	latest := r[0]
	for _, v := range r[1:] {
		if v.Compare(latest) > 0 {
			latest = v
		}
	}
	return latest, true
}

// SortDescending returns a copy of the set ordered from newest to oldest.
func (r Releases) SortDescending() Releases {
	sorted := make(Releases, len(r))
	copy(sorted, r)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Compare(sorted[j]) > 0
	})
	return sorted
}

// Resolve decides the version to publish.
//
// An explicitly requested version must parse and must not already exist. With
// no request the default is used for an empty set, otherwise the major
// component of the latest existing version is bumped.
func Resolve(existing Releases, requested string, def Version) (Version, error) {
	if requested != "" {
		v, err := Parse(requested)
		if err != nil {
			return Version{}, err
		}
		if existing.Contains(v) {
			return Version{}, DuplicateVersionError{Version: v}
		}
		return v, nil
	}

	latest, ok := existing.Latest()
	if !ok {
		return def, nil
	}
	if latest.Major == math.MaxUint64 {
		return Version{}, OverflowError{Latest: latest}
	}
	return latest.BumpMajor(), nil
}
