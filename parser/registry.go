package parser

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/mindforge/llm"
)

// Registry maps file formats to parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a registry with the native parsers installed. Image
// formats are only available after SetVision.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{&PDFParser{}, &XLSXParser{}, &CSVParser{}, &TextParser{}} {
		r.add(p)
	}
	return r
}

func (r *Registry) add(p Parser) {
	for _, f := range p.SupportedFormats() {
		r.parsers[f] = p
	}
}

// SetVision enables OCR of images through a vision-capable model.
func (r *Registry) SetVision(provider llm.VisionProvider, model string) {
	r.add(NewImageParser(provider, model))
}

// Get returns the parser registered for format.
func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

// Register installs p for format, replacing any previous parser.
func (r *Registry) Register(format string, p Parser) {
	r.parsers[format] = p
}

// ParseFile picks the parser from the file extension and runs it.
func (r *Registry) ParseFile(ctx context.Context, path string) (*ParseResult, error) {
	p, err := r.Get(FormatOf(path))
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, path)
}
