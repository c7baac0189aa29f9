package parser

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/brunobiangulo/mindforge/llm"
)

const ocrPrompt = `Convert the provided image into Markdown format. Ensure that all content from the page is included, such as headers, footers, subtexts, images (with alt text if possible), tables, and any other elements.

Requirements:
- Output only Markdown: return solely the Markdown content without any additional explanations or comments.
- No delimiters: do not use code fences or delimiters like ` + "```markdown" + `.
- Complete content: do not omit any part of the page, including headers, footers, and subtext.`

// ImageParser runs OCR on images by asking a vision model for a markdown
// transcription of the page.
type ImageParser struct {
	vision llm.VisionProvider
	model  string
}

// NewImageParser creates an OCR parser. An empty model uses the provider
// default.
func NewImageParser(vision llm.VisionProvider, model string) *ImageParser {
	return &ImageParser{vision: vision, model: model}
}

func (p *ImageParser) SupportedFormats() []string {
	return []string{"png", "jpg", "jpeg", "webp", "gif"}
}

func (p *ImageParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	md, err := p.OCR(ctx, data)
	if err != nil {
		return nil, err
	}
	return &ParseResult{
		Sections: splitMarkdownOrWhole(md),
		Method:   "vision",
	}, nil
}

// OCR returns the markdown transcription of an encoded image.
func (p *ImageParser) OCR(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNoText
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("parser: unsupported image type %s", mime)
	}

	resp, err := p.vision.ChatWithImages(ctx, llm.VisionChatRequest{
		Model: p.model,
		Messages: []llm.VisionMessage{{
			Role: "user",
			Content: []llm.ContentPart{
				{Type: "text", Text: ocrPrompt},
				{Type: "image_url", ImageURL: &llm.ImageURL{URL: DataURL(mime, data)}},
			},
		}},
		MaxTokens: 4096,
	})
	if err != nil {
		return "", fmt.Errorf("vision extraction failed: %w", err)
	}

	md := stripFence(resp.Content)
	if md == "" {
		return "", ErrNoText
	}
	return md, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// stripFence removes a code fence the model wrapped its answer in despite
// being told not to.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func splitMarkdownOrWhole(md string) []Section {
	if sections := splitMarkdown(md); len(sections) > 0 {
		for i := range sections {
			sections[i].Type = "image"
		}
		return sections
	}
	return []Section{{Content: md, Type: "image"}}
}
