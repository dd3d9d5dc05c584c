package render

import "fmt"

// RenderError reports a failure expanding markup or stylesheet templates.
type RenderError struct {
	Part string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Part, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// ConversionError reports a failure turning final markup into a document,
// including a converter that returned cleanly but wrote nothing.
type ConversionError struct {
	Output string
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert document %s: %v", e.Output, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
