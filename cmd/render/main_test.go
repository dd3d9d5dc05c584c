package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadContent(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "invoice.json")
	yamlPath := filepath.Join(dir, "invoice.yaml")
	_ = os.WriteFile(jsonPath, []byte(`{"customer":"Acme","amount":42,"lines":[{"sku":"A1"}]}`), 0o644)
	_ = os.WriteFile(yamlPath, []byte("customer: Acme\namount: 42\nlines:\n  - sku: A1\n"), 0o644)

	want := map[string]any{
		"customer": "Acme",
		"amount":   int64(42),
		"lines":    []any{map[string]any{"sku": "A1"}},
	}
	for _, path := range []string{jsonPath, yamlPath} {
		got, err := readContent(path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", path, diff)
		}
	}

	listPath := filepath.Join(dir, "list.json")
	_ = os.WriteFile(listPath, []byte(`[1,2]`), 0o644)
	if _, err := readContent(listPath); err == nil {
		t.Fatalf("non-object content should be rejected")
	}
}
