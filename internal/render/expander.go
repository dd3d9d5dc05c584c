package render

import (
	"fmt"
	"sync"

	"github.com/flosch/pongo2/v6"

	"report-generator/internal/datatree"
)

// Output is a template expanded against a job's data context.
type Output struct {
	HTML    string
	Style   *string
	Options map[string]any
}

// Expander expands markup and stylesheet templates with pongo2, which accepts
// the Jinja syntax report templates are written in.
type Expander struct {
	set *pongo2.TemplateSet
}

var registerOnce sync.Once

// NewExpander builds an expander. baseDir, when set, is where {% include %}
// and {% extends %} tags resolve files from.
func NewExpander(baseDir string) (*Expander, error) {
	loader, err := pongo2.NewLocalFileSystemLoader(baseDir)
	if err != nil {
		return nil, fmt.Errorf("render: create template loader: %w", err)
	}
	registerOnce.Do(registerFilters)
	return &Expander{set: pongo2.NewSet("reports", loader)}, nil
}

// Expand renders the markup and, when present, the stylesheet against data.
// Options are carried through unchanged.
func (e *Expander) Expand(html string, style *string, options map[string]any, data map[string]any) (Output, error) {
	ctx := pongo2.Context(data)

	markup, err := e.execute(html, ctx)
	if err != nil {
		return Output{}, &RenderError{Part: "markup", Err: err}
	}
	out := Output{HTML: markup, Options: options}

	if style != nil {
		// Stylesheets are not HTML; keep quotes and ampersands intact.
		css, err := e.execute("{% autoescape off %}"+*style+"{% endautoescape %}", ctx)
		if err != nil {
			return Output{}, &RenderError{Part: "stylesheet", Err: err}
		}
		out.Style = &css
	}
	return out, nil
}

func (e *Expander) execute(src string, ctx pongo2.Context) (string, error) {
	tpl, err := e.set.FromString(src)
	if err != nil {
		return "", err
	}
	return tpl.Execute(ctx)
}

func registerFilters() {
	if !pongo2.FilterExists("lookup") {
		_ = pongo2.RegisterFilter("lookup", filterLookup)
	}
}

// filterLookup resolves a dotted path inside a map or list value:
// {{ content|lookup:"customer.address.city" }}.
func filterLookup(in *pongo2.Value, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	tree, err := datatree.FromAny(in.Interface())
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:lookup", OrigError: err}
	}
	v, ok := tree.Lookup(param.String())
	if !ok {
		return pongo2.AsValue(nil), nil
	}
	return pongo2.AsValue(v.Interface()), nil
}
