package compiler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/conneroisu/mdxflow/internal/ir"
)

var (
	refPattern     = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*|\[[0-9]+\])*$`)
	segmentPattern = regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*|\[[0-9]+\]`)
)

// ParseExpr parses the body of a {…} group. Supported forms are JSON
// literals, single-quoted strings, references such as props.items[0].name
// and comments. A comment yields a nil Expr.
func ParseExpr(code string) (ir.Expr, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}
	if strings.HasPrefix(code, "/*") && strings.HasSuffix(code, "*/") {
		return nil, nil
	}
	if strings.HasPrefix(code, "//") && !strings.Contains(code, "\n") {
		return nil, nil
	}

	switch code {
	case "undefined":
		return &ir.Literal{Value: nil}, nil
	}

	if len(code) >= 2 && code[0] == '\'' && code[len(code)-1] == '\'' {
		inner := code[1 : len(code)-1]
		if !strings.Contains(inner, "'") {
			return &ir.Literal{Value: inner}, nil
		}
	}

	if refPattern.MatchString(code) && code != "true" && code != "false" && code != "null" {
		segments := segmentPattern.FindAllString(code, -1)
		path := make([]string, len(segments))
		for i, s := range segments {
			path[i] = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		}
		return &ir.Ref{Path: path}, nil
	}

	var value any
	if err := json.Unmarshal([]byte(code), &value); err == nil {
		return &ir.Literal{Value: value}, nil
	}

	return nil, fmt.Errorf("unsupported expression {%s}: only literals and references are allowed", code)
}
