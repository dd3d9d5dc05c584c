package render

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// CommandConverter hands a standalone HTML document to an external compositor
// such as weasyprint or wkhtmltopdf. The command line must contain the
// {input} and {output} placeholders.
type CommandConverter struct {
	argv    []string
	timeout time.Duration
	policy  *bluemonday.Policy
}

// NewCommandConverter parses command into an argv template.
func NewCommandConverter(command string, timeout time.Duration) (*CommandConverter, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("render: empty converter command")
	}
	if !strings.Contains(command, "{input}") || !strings.Contains(command, "{output}") {
		return nil, fmt.Errorf("render: converter command %q needs {input} and {output}", command)
	}

	// External compositors may run scripts; only document markup gets through.
	policy := bluemonday.UGCPolicy()
	policy.AllowStyling()
	policy.AllowDataURIImages()

	return &CommandConverter{argv: argv, timeout: timeout, policy: policy}, nil
}

func (c *CommandConverter) Convert(ctx context.Context, doc Output, outputPath string) error {
	fail := func(err error) error {
		return &ConversionError{Output: outputPath, Err: err}
	}

	src, err := os.CreateTemp("", "report-*.html")
	if err != nil {
		return fail(fmt.Errorf("create temp markup: %w", err))
	}
	defer os.Remove(src.Name())

	if _, err := src.WriteString(c.Document(doc)); err != nil {
		src.Close()
		return fail(fmt.Errorf("write temp markup: %w", err))
	}
	if err := src.Close(); err != nil {
		return fail(fmt.Errorf("close temp markup: %w", err))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(c.argv)-1)
	for _, a := range c.argv[1:] {
		a = strings.ReplaceAll(a, "{input}", src.Name())
		a = strings.ReplaceAll(a, "{output}", outputPath)
		args = append(args, a)
	}
	out, err := exec.CommandContext(ctx, c.argv[0], args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		if msg != "" {
			return fail(fmt.Errorf("%s: %w: %s", c.argv[0], err, msg))
		}
		return fail(fmt.Errorf("%s: %w", c.argv[0], err))
	}
	return nil
}

// Document wraps sanitized markup and the stylesheet into a standalone page.
func (c *CommandConverter) Document(doc Output) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	if title, ok := doc.Options["title"].(string); ok && title != "" {
		b.WriteString("<title>" + html.EscapeString(title) + "</title>\n")
	}
	if doc.Style != nil {
		b.WriteString("<style>\n")
		b.WriteString(strings.ReplaceAll(*doc.Style, "</style", ""))
		b.WriteString("\n</style>\n")
	}
	b.WriteString("</head>\n<body>\n")
	b.WriteString(c.policy.Sanitize(doc.HTML))
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}
