// Package render turns generated code into highlighted HTML for the page and
// styled text for the terminal.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// DefaultStyle is the chroma style used for the code view.
const DefaultStyle = "github"

// Highlighter renders source code as HTML with CSS classes.
type Highlighter struct {
	style     *chroma.Style
	formatter *html.Formatter
	css       template.CSS
}

// NewHighlighter creates a highlighter for the named chroma style. Unknown
// styles fall back to chroma's default.
func NewHighlighter(styleName string) (*Highlighter, error) {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}

	formatter := html.New(
		html.WithClasses(true),
		html.WithLineNumbers(true),
		html.TabWidth(4),
	)

	var css bytes.Buffer
	if err := formatter.WriteCSS(&css, style); err != nil {
		return nil, fmt.Errorf("writing highlight css: %w", err)
	}

	return &Highlighter{
		style:     style,
		formatter: formatter,
		css:       template.CSS(css.String()),
	}, nil
}

// CSS returns the stylesheet matching the highlighted markup.
func (h *Highlighter) CSS() template.CSS {
	return h.css
}

// HTML highlights code using the lexer registered for language. Unknown
// languages are rendered as plain text.
func (h *Highlighter) HTML(code, language string) (template.HTML, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", fmt.Errorf("tokenising %s: %w", language, err)
	}

	var buf bytes.Buffer
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return "", fmt.Errorf("formatting %s: %w", language, err)
	}

	// chroma escapes every token it emits.
	return template.HTML(buf.String()), nil
}
