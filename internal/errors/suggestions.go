package errors

import (
	"fmt"
	"strings"
)

// Suggestion is one remedy printed under a CLI failure.
type Suggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// ServerStartError suggests remedies for a listener that failed to bind.
func ServerStartError(err error, port int) []Suggestion {
	msg := err.Error()
	if !strings.Contains(msg, "address already in use") && !strings.Contains(msg, "bind") {
		return nil
	}
	return []Suggestion{
		{
			Title:       "Use a different port",
			Description: fmt.Sprintf("Port %d is already in use", port),
			Command:     fmt.Sprintf("mdxflow serve --port %d", port+1),
		},
		{
			Title:   "Find the process using the port",
			Command: fmt.Sprintf("lsof -i :%d", port),
		},
	}
}

// ConfigurationError suggests remedies for a configuration that failed to
// load or validate.
func ConfigurationError(err error, configPath string) []Suggestion {
	suggestions := []Suggestion{{
		Title:       "Check configuration syntax",
		Description: "Verify the YAML in your configuration file is valid",
	}}
	if configPath != "" {
		suggestions[0].Command = "cat " + configPath
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "extension") {
		suggestions = append(suggestions, Suggestion{
			Title:       "Use a known compiler extension",
			Description: "remark: gfm, footnote, typographer, definition-list, frontmatter; rehype: raw, slug, highlight, external-links",
			Example:     "compiler:\n  remark: [gfm]\n  rehype: [slug]",
		})
	}
	if strings.Contains(msg, "storage") {
		suggestions = append(suggestions, Suggestion{
			Title:   "Pick a supported storage driver",
			Example: "storage:\n  driver: file\n  path: .mdxflow/documents.snap\n  compression: zstd",
		})
	}
	return suggestions
}

// EnhancedError carries the suggestions printed with a CLI failure.
type EnhancedError struct {
	Title       string
	Suggestions []Suggestion
	err         error
}

// NewEnhancedError wraps err. Error prints title and the suggestions;
// errors.Is and errors.As see err.
func NewEnhancedError(title string, err error, suggestions []Suggestion) *EnhancedError {
	return &EnhancedError{Title: title, Suggestions: suggestions, err: err}
}

func (e *EnhancedError) Error() string {
	if len(e.Suggestions) == 0 {
		if e.err == nil {
			return e.Title
		}
		return e.Title + ": " + e.err.Error()
	}

	var b strings.Builder
	b.WriteString(e.Title)
	if e.err != nil {
		b.WriteString(": " + e.err.Error())
	}
	b.WriteString("\n\nSuggestions:\n")
	for i, s := range e.Suggestions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.Title)
		for _, line := range [][2]string{{"", s.Description}, {"Run: ", s.Command}, {"Example: ", s.Example}} {
			if line[1] != "" {
				fmt.Fprintf(&b, "     %s%s\n", line[0], line[1])
			}
		}
	}
	return b.String()
}

func (e *EnhancedError) Unwrap() error {
	return e.err
}
