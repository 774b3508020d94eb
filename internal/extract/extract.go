// Package extract turns files into plain text for indexing. Markdown is
// parsed and flattened; other text is read as is; binary files yield nothing.
package extract

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hpungsan/cairn/internal/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultMaxChars is the truncation limit used when none is configured.
const DefaultMaxChars = 50000

// headShare is the fraction of MaxChars kept from the start of a long document.
const headShare = 0.7

var markdownExts = map[string]bool{".md": true, ".markdown": true, ".mdx": true}

// Extractor reads text from files.
type Extractor struct {
	maxChars int
	md       goldmark.Markdown
}

// New returns an Extractor. maxChars caps the returned text; zero means the
// default.
func New(maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Extractor{maxChars: maxChars, md: goldmark.New()}
}

// ExtractText returns the text of path, truncated to the configured limit.
// ok is false when the file is not text. A missing path is FILE_NOT_FOUND.
func (e *Extractor) ExtractText(ctx context.Context, path string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", false, errors.NewFileNotFound(path)
		}
		return "", false, err
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%s is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false, err
	}
	if !isText(mt) {
		return "", false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	if !utf8.Valid(data) {
		return "", false, nil
	}

	content := string(data)
	if markdownExts[strings.ToLower(filepath.Ext(path))] {
		content = e.Markdown(data)
	}
	return Truncate(content, e.maxChars), true, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// Markdown renders src to plain text: one line per block, inline markup
// dropped, code blocks kept verbatim.
func (e *Extractor) Markdown(src []byte) string {
	doc := e.md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && n.FirstChild() != nil {
				newline(&buf)
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(src))
			if node.HardLineBreak() {
				buf.WriteByte('\n')
			} else if node.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.URL(src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			newline(&buf)
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(buf.String())
}

func newline(buf *bytes.Buffer) {
	if b := buf.Bytes(); len(b) > 0 && b[len(b)-1] != '\n' {
		buf.WriteByte('\n')
	}
}

// Truncate shortens s to at most maxChars runes of content, keeping the
// first 70% and the last 30% with a marker in between.
func Truncate(s string, maxChars int) string {
	runes := []rune(s)
	if maxChars <= 0 || len(runes) <= maxChars {
		return s
	}
	head := int(float64(maxChars) * headShare)
	tail := maxChars - head
	omitted := len(runes) - head - tail
	return string(runes[:head]) +
		fmt.Sprintf("\n\n[... %d characters truncated ...]\n\n", omitted) +
		string(runes[len(runes)-tail:])
}
