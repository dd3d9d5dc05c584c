package templates

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeBundle(t *testing.T, root, name string, members map[string]string) string {
	t.Helper()
	path := filepath.Join(root, name+BundleExt)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	zw := zip.NewWriter(f)
	for member, body := range members {
		w, err := zw.Create(member)
		if err != nil {
			t.Fatalf("create member %s: %v", member, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write member %s: %v", member, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close bundle: %v", err)
	}
	return path
}

func writeDir(t *testing.T, root, name string, members map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for member, body := range members {
		if err := os.WriteFile(filepath.Join(dir, member), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", member, err)
		}
	}
	return dir
}

func TestLoadArchiveComplete(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "invoice", map[string]string{
		MarkupFile:     "<h1>{{ content.customer }}</h1>",
		StyleFile:      "body { color: black; }",
		"options.json": `{"page_size": "A4", "margin": 12}`,
	})

	inst, err := NewLoader(root, ModeArchive).Load("invoice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if inst.Name != "invoice" || inst.HTML == "" {
		t.Fatalf("unexpected instance %+v", inst)
	}
	if inst.Style == nil || *inst.Style != "body { color: black; }" {
		t.Fatalf("unexpected style %v", inst.Style)
	}
	want := map[string]any{"page_size": "A4", "margin": float64(12)}
	if diff := cmp.Diff(want, inst.Options); diff != "" {
		t.Fatalf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMarkupOnlyLeavesOptionalFieldsNil(t *testing.T) {
	for _, mode := range []Mode{ModeArchive, ModeDirectory} {
		root := t.TempDir()
		members := map[string]string{MarkupFile: "<p>hello</p>"}
		if mode == ModeArchive {
			writeBundle(t, root, "letter", members)
		} else {
			writeDir(t, root, "letter", members)
		}

		inst, err := NewLoader(root, mode).Load("letter")
		if err != nil {
			t.Fatalf("%s: load: %v", mode, err)
		}
		if inst.Style != nil || inst.Options != nil {
			t.Fatalf("%s: optional members should be nil, got style=%v options=%v", mode, inst.Style, inst.Options)
		}
	}
}

func TestLoadWithoutMarkupFails(t *testing.T) {
	for _, mode := range []Mode{ModeArchive, ModeDirectory} {
		root := t.TempDir()
		members := map[string]string{StyleFile: "body {}", "options.json": "{}"}
		if mode == ModeArchive {
			writeBundle(t, root, "broken", members)
		} else {
			writeDir(t, root, "broken", members)
		}

		inst, err := NewLoader(root, mode).Load("broken")
		if inst != nil {
			t.Fatalf("%s: expected no instance, got %+v", mode, inst)
		}
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			t.Fatalf("%s: expected LoadError, got %v", mode, err)
		}
		if !errors.Is(err, ErrMarkupMissing) {
			t.Fatalf("%s: expected ErrMarkupMissing, got %v", mode, err)
		}
	}
}

func TestLoadMalformedOptions(t *testing.T) {
	root := t.TempDir()
	writeDir(t, root, "bad", map[string]string{
		MarkupFile:     "<p>x</p>",
		"options.json": `{"page_size": `,
	})

	_, err := NewLoader(root, ModeDirectory).Load("bad")
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if loadErr.Template != "bad" {
		t.Fatalf("unexpected template in error: %q", loadErr.Template)
	}
}

func TestLoadYAMLOptions(t *testing.T) {
	root := t.TempDir()
	writeDir(t, root, "memo", map[string]string{
		MarkupFile:     "<p>memo</p>",
		"options.yaml": "page_size: Letter\norientation: L\n",
	})

	inst, err := NewLoader(root, ModeDirectory).Load("memo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if inst.Options["page_size"] != "Letter" || inst.Options["orientation"] != "L" {
		t.Fatalf("unexpected options %v", inst.Options)
	}
}

func TestLoadCorruptArchive(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "junk"+BundleExt), []byte("not a zip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := NewLoader(root, ModeArchive).Load("junk")
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestLoadUnknownTemplate(t *testing.T) {
	root := t.TempDir()
	writeDir(t, root, "invoice", map[string]string{MarkupFile: "<p>x</p>"})

	_, err := NewLoader(root, ModeDirectory).Load("does-not-exist")
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingError, got %v", err)
	}
	if diff := cmp.Diff([]string{"invoice"}, missing.Available); diff != "" {
		t.Fatalf("available mismatch (-want +got):\n%s", diff)
	}
}

func TestAvailableByMode(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "b", map[string]string{MarkupFile: "x"})
	writeBundle(t, root, "a", map[string]string{MarkupFile: "x"})
	writeDir(t, root, "expanded", map[string]string{MarkupFile: "x"})
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	archived, err := NewLoader(root, ModeArchive).Available()
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, archived); diff != "" {
		t.Fatalf("archive names mismatch (-want +got):\n%s", diff)
	}

	dirs, err := NewLoader(root, ModeDirectory).Available()
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if diff := cmp.Diff([]string{"expanded"}, dirs); diff != "" {
		t.Fatalf("directory names mismatch (-want +got):\n%s", diff)
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Directory"); err != nil || m != ModeDirectory {
		t.Fatalf("got %q, %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != ModeArchive {
		t.Fatalf("got %q, %v", m, err)
	}
	if _, err := ParseMode("tarball"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
