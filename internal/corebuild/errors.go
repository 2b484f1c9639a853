package corebuild

import "fmt"

// Error taxonomy (spec.md §7). Each wraps a message with %w so callers can
// errors.As/errors.Is against the family without losing the underlying
// cause, following the teacher's fmt.Errorf("...: %w", err) convention
// throughout internal/hokuto/deps.go and build.go.

// ParseError wraps a failure to parse a port manifest or BUILD_INFO file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DefinitionMissingError means mark_plus/mark_minus reached a cluster with
// no source view.
type DefinitionMissingError struct {
	Spec PackageSpec
}

func (e *DefinitionMissingError) Error() string {
	return fmt.Sprintf("cannot find definition for package %s", e.Spec)
}

// DatabaseCorruptedError means an installed package's recorded dependency
// has no corresponding cluster in the Status Database.
type DatabaseCorruptedError struct {
	Spec    PackageSpec
	Missing PackageSpec
}

func (e *DatabaseCorruptedError) Error() string {
	return fmt.Sprintf("database corrupted: %s depends on %s, which has no installed cluster", e.Spec, e.Missing)
}

// UnsatisfiableDependencyError means follow_plus_dependencies could not find
// a requested feature in the source view.
type UnsatisfiableDependencyError struct {
	Spec    PackageSpec
	Feature string
}

func (e *UnsatisfiableDependencyError) Error() string {
	return fmt.Sprintf("feature %q not found for package %s", e.Feature, e.Spec)
}

// errFeatureNotFound is the internal sentinel follow_plus_dependencies
// returns before the caller decides whether to promote it to a fatal
// UnsatisfiableDependencyError or a warning (reinstall-of-drifted-feature
// case, spec.md §7).
var errFeatureNotFound = fmt.Errorf("FEATURE_NOT_FOUND")
