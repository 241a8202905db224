// Package render provides centralized output rendering for the cairn CLI.
//
// Format selection rules:
//   - If output is a TTY, default to text
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// --no-color affects text output only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json or text)", s)
	}
}

// Field is one label/value line of text output.
type Field struct {
	Label string
	Value string
	// Style colors the value in text output; nil uses the default.
	Style *lipgloss.Style
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from CLI context, applying the
// TTY-based default format.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}

	if format == "" {
		if isTTY(os.Stdout) {
			format = FormatText
		} else {
			format = FormatJSON
		}
	}

	return &Renderer{
		format:  format,
		noColor: c.Bool("no-color"),
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Render outputs the payload. JSON mode serializes the raw payload;
// text mode prints the title and field lines.
func (r *Renderer) Render(title string, fields []Field, raw any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(raw)
	case FormatText:
		return r.renderText(title, fields)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderText(title string, fields []Field) error {
	if title != "" {
		if _, err := fmt.Fprintln(r.out, r.styled(TitleStyle, title)); err != nil {
			return err
		}
	}
	for _, f := range fields {
		label := r.styled(LabelStyle, f.Label)
		value := f.Value
		if f.Style != nil {
			value = r.styled(*f.Style, value)
		}
		if _, err := fmt.Fprintf(r.out, "%s %s\n", label, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) styled(style lipgloss.Style, s string) string {
	if r.noColor {
		// Keep the layout (widths, padding) without color codes.
		return style.UnsetForeground().UnsetBold().Render(s)
	}
	return style.Render(s)
}

// isTTY returns true if the writer is a TTY.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
