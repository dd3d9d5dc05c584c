package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// layout is the page setup the PDF converter applies. Stylesheet values are
// read first, render options override them.
type layout struct {
	PageSize    string
	Orientation string
	Margins     [4]float64 // top, right, bottom, left in mm
	FontFamily  string
	FontSize    float64 // pt
	FontFile    string
	Color       [3]int
	Title       string
	Author      string
	Compress    bool
}

func defaultLayout() layout {
	return layout{
		PageSize:    "A4",
		Orientation: "P",
		Margins:     [4]float64{15, 15, 15, 15},
		FontFamily:  "helvetica",
		FontSize:    11,
		Compress:    true,
	}
}

func resolveLayout(style *string, options map[string]any) (layout, error) {
	l := defaultLayout()
	if style != nil && strings.TrimSpace(*style) != "" {
		if err := l.applyStylesheet(*style); err != nil {
			return l, err
		}
	}
	l.applyOptions(options)
	return l, nil
}

func (l *layout) applyStylesheet(src string) error {
	sheet, err := parser.Parse(src)
	if err != nil {
		return fmt.Errorf("parse stylesheet: %w", err)
	}
	for _, rule := range sheet.Rules {
		switch rule.Kind {
		case css.AtRule:
			if strings.TrimPrefix(rule.Name, "@") == "page" {
				l.applyPage(rule.Declarations)
			}
		case css.QualifiedRule:
			for _, sel := range rule.Selectors {
				if s := strings.TrimSpace(sel); s == "body" || s == "html" {
					l.applyBody(rule.Declarations)
					break
				}
			}
		}
	}
	return nil
}

func (l *layout) applyPage(decls []*css.Declaration) {
	for _, d := range decls {
		switch strings.ToLower(d.Property) {
		case "size":
			for _, part := range strings.Fields(strings.ToLower(d.Value)) {
				switch part {
				case "landscape":
					l.Orientation = "L"
				case "portrait":
					l.Orientation = "P"
				case "a3", "a4", "a5", "letter", "legal":
					l.PageSize = normalisePageSize(part)
				}
			}
		case "margin":
			if m, ok := parseBoxShorthand(d.Value); ok {
				l.Margins = m
			}
		case "margin-top":
			setLength(&l.Margins[0], d.Value)
		case "margin-right":
			setLength(&l.Margins[1], d.Value)
		case "margin-bottom":
			setLength(&l.Margins[2], d.Value)
		case "margin-left":
			setLength(&l.Margins[3], d.Value)
		}
	}
}

func (l *layout) applyBody(decls []*css.Declaration) {
	for _, d := range decls {
		switch strings.ToLower(d.Property) {
		case "font-family":
			l.FontFamily = coreFamily(d.Value)
		case "font-size":
			if mm, ok := parseLength(d.Value); ok && mm > 0 {
				l.FontSize = mm / mmPerPoint
			}
		case "color":
			if rgb, ok := parseHexColor(d.Value); ok {
				l.Color = rgb
			}
		}
	}
}

func (l *layout) applyOptions(options map[string]any) {
	if len(options) == 0 {
		return
	}
	if v, ok := options["page_size"].(string); ok && v != "" {
		l.PageSize = normalisePageSize(v)
	}
	if v, ok := options["orientation"].(string); ok && v != "" {
		switch strings.ToUpper(v[:1]) {
		case "L":
			l.Orientation = "L"
		case "P":
			l.Orientation = "P"
		}
	}
	if v, ok := toFloat(options["margin"]); ok && v >= 0 {
		l.Margins = [4]float64{v, v, v, v}
	}
	if v, ok := options["font_family"].(string); ok && v != "" {
		l.FontFamily = coreFamily(v)
	}
	if v, ok := toFloat(options["font_size"]); ok && v > 0 {
		l.FontSize = v
	}
	if v, ok := options["font_file"].(string); ok {
		l.FontFile = strings.TrimSpace(v)
	}
	if v, ok := options["title"].(string); ok {
		l.Title = v
	}
	if v, ok := options["author"].(string); ok {
		l.Author = v
	}
	if v, ok := options["compress"].(bool); ok {
		l.Compress = v
	}
}

const mmPerPoint = 25.4 / 72

// parseLength converts a CSS length into millimetres.
func parseLength(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	units := []struct {
		suffix string
		factor float64
	}{
		{"mm", 1},
		{"cm", 10},
		{"in", 25.4},
		{"pt", mmPerPoint},
		{"px", 25.4 / 96},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), 64)
			if err != nil {
				return 0, false
			}
			return f * u.factor, true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func setLength(dst *float64, raw string) {
	if v, ok := parseLength(raw); ok {
		*dst = v
	}
}

// parseBoxShorthand expands the 1–4 value margin shorthand into top, right, bottom, left.
func parseBoxShorthand(raw string) ([4]float64, bool) {
	parts := strings.Fields(raw)
	vals := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, ok := parseLength(p)
		if !ok {
			return [4]float64{}, false
		}
		vals = append(vals, v)
	}
	switch len(vals) {
	case 1:
		return [4]float64{vals[0], vals[0], vals[0], vals[0]}, true
	case 2:
		return [4]float64{vals[0], vals[1], vals[0], vals[1]}, true
	case 3:
		return [4]float64{vals[0], vals[1], vals[2], vals[1]}, true
	case 4:
		return [4]float64{vals[0], vals[1], vals[2], vals[3]}, true
	default:
		return [4]float64{}, false
	}
}

func parseHexColor(raw string) ([3]int, bool) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return [3]int{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return [3]int{}, false
	}
	return [3]int{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}, true
}

// coreFamily maps a CSS font-family list onto one of the PDF core fonts.
func coreFamily(raw string) string {
	first := strings.ToLower(strings.Trim(strings.TrimSpace(strings.Split(raw, ",")[0]), `"'`))
	switch {
	case strings.Contains(first, "courier"), strings.Contains(first, "mono"):
		return "courier"
	case strings.Contains(first, "times"), first == "serif", strings.Contains(first, "georgia"):
		return "times"
	default:
		return "helvetica"
	}
}

func normalisePageSize(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a3":
		return "A3"
	case "a5":
		return "A5"
	case "letter":
		return "Letter"
	case "legal":
		return "Legal"
	default:
		return "A4"
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseLength(t)
	default:
		return 0, false
	}
}
