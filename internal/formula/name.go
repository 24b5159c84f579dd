package formula

import (
	"fmt"

	"github.com/grafana/regexp"
)

var sourceName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// CheckSourceName rejects names that cannot address saved source or a build
// workspace: they must be an ASCII letter followed by letters, digits or
// underscores.
func CheckSourceName(name string) error {
	if !sourceName.MatchString(name) {
		return fmt.Errorf("%w: invalid formula name %q", ErrConfig, name)
	}
	return nil
}
