package templates

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known members of a template bundle or directory.
const (
	MarkupFile = "template.html"
	StyleFile  = "style.css"

	// BundleExt is the file extension of packaged template bundles.
	BundleExt = ".tpl"
)

// optionsFiles are tried in order; the first one present wins.
var optionsFiles = []string{"options.json", "options.yaml", "options.yml"}

// Mode selects how templates are laid out under the template root.
type Mode string

const (
	ModeArchive   Mode = "archive"
	ModeDirectory Mode = "directory"
)

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeArchive, "":
		return ModeArchive, nil
	case ModeDirectory:
		return ModeDirectory, nil
	default:
		return "", fmt.Errorf("unknown template mode %q", s)
	}
}

// Instance is a loaded template: markup is always present, the stylesheet and
// options are nil when the template does not ship them.
type Instance struct {
	Name    string
	HTML    string
	Style   *string
	Options map[string]any
}

// Loader reads templates from a root directory in either archive or directory mode.
type Loader struct {
	root string
	mode Mode
}

// NewLoader builds a loader rooted at dir.
func NewLoader(dir string, mode Mode) *Loader {
	return &Loader{root: dir, mode: mode}
}

// Root returns the template root directory.
func (l *Loader) Root() string { return l.root }

// Mode returns the configured storage layout.
func (l *Loader) Mode() Mode { return l.mode }

// Available lists installed template names, sorted.
func (l *Loader) Available() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch l.mode {
		case ModeDirectory:
			if e.IsDir() {
				names = append(names, e.Name())
			}
		default:
			if !e.IsDir() && strings.HasSuffix(e.Name(), BundleExt) {
				names = append(names, strings.TrimSuffix(e.Name(), BundleExt))
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Validate returns a *MissingError when name is not an installed template.
func (l *Loader) Validate(name string) error {
	available, err := l.Available()
	if err != nil {
		return err
	}
	for _, candidate := range available {
		if candidate == name {
			return nil
		}
	}
	return &MissingError{Name: name, Available: available}
}

// Locate returns the on-disk location of the named template.
func (l *Loader) Locate(name string) string {
	if l.mode == ModeDirectory {
		return filepath.Join(l.root, name)
	}
	return filepath.Join(l.root, name+BundleExt)
}

// Load validates the name against the installed set and reads the template.
func (l *Loader) Load(name string) (*Instance, error) {
	if err := l.Validate(name); err != nil {
		return nil, err
	}
	return Load(l.Locate(name), l.mode)
}

// Load reads a template from a bundle (ModeArchive) or an expanded directory
// (ModeDirectory). It returns either a complete Instance or an error; a
// missing markup member is always an error.
func Load(locator string, mode Mode) (*Instance, error) {
	switch mode {
	case ModeDirectory:
		name := filepath.Base(locator)
		info, err := os.Stat(locator)
		if err != nil {
			return nil, &LoadError{Template: name, Path: locator, Err: err}
		}
		if !info.IsDir() {
			return nil, &LoadError{Template: name, Path: locator, Err: errors.New("not a directory")}
		}
		return readMembers(name, locator, os.DirFS(locator))
	default:
		name := strings.TrimSuffix(filepath.Base(locator), BundleExt)
		rc, err := zip.OpenReader(locator)
		if err != nil {
			return nil, &LoadError{Template: name, Path: locator, Err: fmt.Errorf("open bundle: %w", err)}
		}
		defer rc.Close()
		return readMembers(name, locator, &rc.Reader)
	}
}

func readMembers(name, locator string, fsys fs.FS) (*Instance, error) {
	fail := func(err error) (*Instance, error) {
		return nil, &LoadError{Template: name, Path: locator, Err: err}
	}

	html, found, err := readOptional(fsys, MarkupFile)
	if err != nil {
		return fail(err)
	}
	if !found {
		return fail(fmt.Errorf("%w: %s", ErrMarkupMissing, MarkupFile))
	}
	if strings.TrimSpace(html) == "" {
		return fail(fmt.Errorf("%s is empty", MarkupFile))
	}

	inst := &Instance{Name: name, HTML: html}

	style, found, err := readOptional(fsys, StyleFile)
	if err != nil {
		return fail(err)
	}
	if found {
		inst.Style = &style
	}

	for _, file := range optionsFiles {
		raw, found, err := readOptional(fsys, file)
		if err != nil {
			return fail(err)
		}
		if !found {
			continue
		}
		opts, err := parseOptions(file, []byte(raw))
		if err != nil {
			return fail(err)
		}
		inst.Options = opts
		break
	}
	return inst, nil
}

func readOptional(fsys fs.FS, file string) (string, bool, error) {
	b, err := fs.ReadFile(fsys, file)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", file, err)
	}
	return string(b), true, nil
}

func parseOptions(file string, raw []byte) (map[string]any, error) {
	opts := map[string]any{}
	if strings.HasSuffix(file, ".json") {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		return opts, nil
	}
	if err := yaml.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return opts, nil
}
