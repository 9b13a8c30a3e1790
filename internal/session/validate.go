package session

import (
	"fmt"
	"regexp"
)

// Session ids become directory names and URL path segments, so the
// charset is deliberately tight.
var idPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateID checks that a session id is usable as a path segment and
// directory name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q: must match %s", id, idPattern.String())
	}
	return nil
}
