// Package version gates on-disk schema compatibility (SPEC_FULL §4.16,
// "VersionGate"): persisted formats carry a semver tag, and a future,
// incompatible major version fails loudly instead of being silently
// misparsed. Grounded in the teacher's github.com/Masterminds/semver/v3
// dependency (used there for policy-bundle compatibility checks).
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Current is the schema version this binary writes and fully understands.
const Current = "1.0.0"

// ErrIncompatible indicates an on-disk schema version this binary cannot
// safely interpret.
type ErrIncompatible struct {
	Found string
	Want  string
}

func (e *ErrIncompatible) Error() string {
	return fmt.Sprintf("version: on-disk schema %s is incompatible with supported %s.x", e.Found, e.Want)
}

// Check validates that `found` (a semver string persisted in a file) shares
// the current major version. A missing/empty found is treated as the
// oldest supported version (pre-versioning files), not an error.
func Check(found string) error {
	if found == "" {
		return nil
	}
	fv, err := semver.NewVersion(found)
	if err != nil {
		return fmt.Errorf("version: malformed schema version %q: %w", found, err)
	}
	cv := semver.MustParse(Current)
	if fv.Major() != cv.Major() {
		return &ErrIncompatible{Found: found, Want: Current}
	}
	return nil
}
