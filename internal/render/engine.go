package render

import (
	"fmt"
	"strings"
	"time"
)

// Converter engines selectable by name.
const (
	EngineBuiltin = "builtin"
	EngineCommand = "command"
)

// NewConverter returns the converter for engine. The builtin engine draws the
// document with the bundled PDF writer; the command engine shells out.
func NewConverter(engine, command, fontDir string, timeout time.Duration) (Converter, error) {
	switch strings.ToLower(engine) {
	case EngineBuiltin, "":
		return NewPDFConverter(fontDir), nil
	case EngineCommand:
		return NewCommandConverter(command, timeout)
	default:
		return nil, fmt.Errorf("render: unknown engine %q", engine)
	}
}
