package templates

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMarkupMissing marks a template that has no markup member.
var ErrMarkupMissing = errors.New("template markup not found")

// MissingError reports a requested template name that is not installed.
type MissingError struct {
	Name      string
	Available []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("invalid template: %s. available templates: [%s]", e.Name, strings.Join(e.Available, ", "))
}

// LoadError reports a template that exists but could not be read or parsed.
type LoadError struct {
	Template string
	Path     string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("error loading template %s from %s: %v", e.Template, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
