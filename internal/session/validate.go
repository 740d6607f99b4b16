package session

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/errors"
)

// MaxNameLen bounds session names; each name becomes a directory.
const MaxNameLen = 48

// ValidateName reports whether name can be used as a session name: lower
// case letters, digits, '-' and '_', not starting with '-'.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.InvalidInput("session name is empty")
	case len(name) > MaxNameLen:
		return errors.InvalidInput(fmt.Sprintf("session name %q is longer than %d characters", name, MaxNameLen))
	case strings.HasPrefix(name, "-"):
		return errors.InvalidInput(fmt.Sprintf("session name %q must not start with '-'", name))
	}
	for _, r := range name {
		if !isNameRune(r) {
			return errors.InvalidInput(fmt.Sprintf("session name %q contains %q", name, r))
		}
	}
	return nil
}

func isNameRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}
