package types

import (
	"fmt"
	"strings"
)

const validNameChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_,.=-/~@!+$"

type InvalidNameError struct {
	Kind string
	Name string
}

func (e InvalidNameError) Error() string {
	if e.Name == "..." {
		return fmt.Sprintf("invalid %s name '...': reserved", e.Kind)
	}
	return fmt.Sprintf(
		"invalid %s name %q: names are non-empty and may only contain alphanumerics and %q",
		e.Kind, e.Name, validNameChars[62:],
	)
}

// ValidateName checks a command, job, workflow or parameter name.
func ValidateName(kind, name string) error {
	if name == "" || name == "..." {
		return InvalidNameError{Kind: kind, Name: name}
	}
	for _, r := range name {
		if !strings.ContainsRune(validNameChars, r) {
			return InvalidNameError{Kind: kind, Name: name}
		}
	}
	return nil
}
