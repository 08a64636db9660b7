// Package version provides semantic version parsing and range resolution
// for mod manifests, built on Masterminds/semver.
package version

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// String constants for operations (used in ErrVersionParseFailed)
const (
	OpParseManifestVersion = "parse_manifest_version"
	OpParseAssemblyVersion = "parse_assembly_version"
	OpParseRange           = "parse_range"
)

// Sentinel errors
var (
	ErrInvalidVersion = errors.New("invalid version format")
	ErrEmptyRange     = errors.New("range expression cannot be empty")
)

// Zero is the sentinel meaning "absent or unparsed". A manifest whose
// version field is missing or malformed decodes to Zero rather than
// failing the whole document.
var Zero = Version{}

// Version is an immutable semantic version value. The zero value is the
// Zero sentinel.
type Version struct {
	v *semver.Version
}

// Parse parses a semantic version string. Failure returns the Zero
// sentinel alongside the error so callers can store the result directly.
func Parse(raw string) (Version, error) {
	sv, err := semver.NewVersion(raw)
	if err != nil {
		return Zero, ErrVersionParseFailed{
			Version: raw,
			Op:      OpParseManifestVersion,
			Cause:   err,
		}
	}
	return Version{v: sv}, nil
}

// MustParse parses a version string and panics on failure. Intended for
// tests and fixed values only.
func MustParse(raw string) Version {
	ver, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ver
}

// IsZero reports whether the version is the absent/unparsed sentinel.
// A literal "0.0.0" with no pre-release or build metadata also counts:
// it is indistinguishable from a never-set version.
func (ver Version) IsZero() bool {
	if ver.v == nil {
		return true
	}
	return ver.v.Major() == 0 && ver.v.Minor() == 0 && ver.v.Patch() == 0 &&
		ver.v.Prerelease() == "" && ver.v.Metadata() == ""
}

// Major returns the major component, 0 for the Zero sentinel.
func (ver Version) Major() uint64 {
	if ver.v == nil {
		return 0
	}
	return ver.v.Major()
}

// Minor returns the minor component, 0 for the Zero sentinel.
func (ver Version) Minor() uint64 {
	if ver.v == nil {
		return 0
	}
	return ver.v.Minor()
}

// Patch returns the patch component, 0 for the Zero sentinel.
func (ver Version) Patch() uint64 {
	if ver.v == nil {
		return 0
	}
	return ver.v.Patch()
}

// String renders the version, or the empty string for the Zero sentinel.
func (ver Version) String() string {
	if ver.v == nil {
		return ""
	}
	return ver.v.String()
}

// CoreEquals compares major/minor/patch component-wise, ignoring
// pre-release and build metadata on either side. The Zero sentinel never
// equals anything, itself included.
func (ver Version) CoreEquals(other Version) bool {
	if ver.v == nil || other.v == nil {
		return false
	}
	return ver.v.Major() == other.v.Major() &&
		ver.v.Minor() == other.v.Minor() &&
		ver.v.Patch() == other.v.Patch()
}

// ErrVersionParseFailed represents a version or range parsing error
type ErrVersionParseFailed struct {
	Version string
	Op      string
	Cause   error
}

func (e ErrVersionParseFailed) Error() string {
	return fmt.Sprintf("failed to parse version %s in operation %s: %v", e.Version, e.Op, e.Cause)
}

func (e ErrVersionParseFailed) Unwrap() error {
	return e.Cause
}

func (e ErrVersionParseFailed) Is(target error) bool {
	var parseErr ErrVersionParseFailed
	return errors.As(target, &parseErr)
}
