package compiler

import (
	"fmt"
)

// rawAttr is an attribute as written in source.
type rawAttr struct {
	Name string
	// Kind is '"' for quoted strings, '{' for expressions and 0 for bare
	// attributes.
	Kind  byte
	Value string
}

// jsxTag is one lexed JSX tag.
type jsxTag struct {
	Name        string
	Attrs       []rawAttr
	Closing     bool
	SelfClosing bool
	// Len is the number of bytes the tag occupies, including both angle
	// brackets.
	Len int
	// Newlines counts line breaks inside the tag.
	Newlines int
}

// tagError is a lexing failure at a byte offset within the input.
type tagError struct {
	Offset int
	Msg    string
}

func (e *tagError) Error() string {
	return e.Msg
}

// isComponentStart reports whether src starts a JSX component tag: '<'
// followed by an upper-case letter, or "</" followed by one.
func isComponentStart(src []byte) bool {
	if len(src) < 2 || src[0] != '<' {
		return false
	}
	i := 1
	if src[i] == '/' {
		i++
	}
	return i < len(src) && isUpper(src[i])
}

func isUpper(c byte) bool  { return c >= 'A' && c <= 'Z' }
func isLetter(c byte) bool { return isUpper(c) || (c >= 'a' && c <= 'z') }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isSpace(c byte) bool  { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isNameChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_' || c == '.'
}

func isAttrStart(c byte) bool {
	return isLetter(c) || c == '_' || c == ':'
}

func isAttrChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_' || c == ':' || c == '-' || c == '.'
}

// lexTag reads a component tag at the start of src. It returns nil and no
// error when src does not start with a component tag at all.
func lexTag(src []byte) (*jsxTag, error) {
	if !isComponentStart(src) {
		return nil, nil
	}

	t := &jsxTag{}
	i := 1
	if src[i] == '/' {
		t.Closing = true
		i++
	}

	start := i
	for i < len(src) && isNameChar(src[i]) {
		i++
	}
	t.Name = string(src[start:i])

	for {
		for i < len(src) && isSpace(src[i]) {
			if src[i] == '\n' {
				t.Newlines++
			}
			i++
		}
		if i >= len(src) {
			return nil, &tagError{Offset: i, Msg: fmt.Sprintf("unclosed tag <%s>", t.Name)}
		}

		switch c := src[i]; {
		case c == '>':
			t.Len = i + 1
			return t, nil
		case c == '/' && i+1 < len(src) && src[i+1] == '>':
			if t.Closing {
				return nil, &tagError{Offset: i, Msg: fmt.Sprintf("closing tag </%s> cannot be self-closing", t.Name)}
			}
			t.SelfClosing = true
			t.Len = i + 2
			return t, nil
		case t.Closing:
			return nil, &tagError{Offset: i, Msg: fmt.Sprintf("closing tag </%s> cannot have attributes", t.Name)}
		case c == '{' && i+1 < len(src) && src[i+1] == '.':
			return nil, &tagError{Offset: i, Msg: "spread attributes are not supported"}
		case !isAttrStart(c):
			return nil, &tagError{Offset: i, Msg: fmt.Sprintf("unexpected character %q in <%s>", c, t.Name)}
		}

		attr, n, nl, err := lexAttr(src[i:])
		if err != nil {
			err.Offset += i
			return nil, err
		}
		t.Newlines += nl
		t.Attrs = append(t.Attrs, attr)
		i += n
	}
}

// lexAttr reads name, name="v", name='v' or name={expr}.
func lexAttr(src []byte) (rawAttr, int, int, *tagError) {
	i := 0
	for i < len(src) && isAttrChar(src[i]) {
		i++
	}
	attr := rawAttr{Name: string(src[:i])}

	j := i
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	if j >= len(src) || src[j] != '=' {
		return attr, i, 0, nil
	}
	j++
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	if j >= len(src) {
		return attr, 0, 0, &tagError{Offset: j, Msg: fmt.Sprintf("missing value for attribute %q", attr.Name)}
	}

	newlines := 0
	switch q := src[j]; q {
	case '"', '\'':
		end := j + 1
		for end < len(src) && src[end] != q {
			if src[end] == '\n' {
				newlines++
			}
			end++
		}
		if end >= len(src) {
			return attr, 0, 0, &tagError{Offset: j, Msg: fmt.Sprintf("unterminated string in attribute %q", attr.Name)}
		}
		attr.Kind = '"'
		attr.Value = string(src[j+1 : end])
		return attr, end + 1, newlines, nil
	case '{':
		end, err := matchBrace(src[j:])
		if err != nil {
			err.Offset += j
			return attr, 0, 0, err
		}
		for _, c := range src[j : j+end] {
			if c == '\n' {
				newlines++
			}
		}
		attr.Kind = '{'
		attr.Value = string(src[j+1 : j+end-1])
		return attr, j + end, newlines, nil
	default:
		return attr, 0, 0, &tagError{Offset: j, Msg: fmt.Sprintf("attribute %q must be a quoted string or {expression}", attr.Name)}
	}
}

// matchBrace returns the length of the balanced {…} group at the start of
// src. Braces inside string literals are ignored.
func matchBrace(src []byte) (int, *tagError) {
	depth := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, &tagError{Offset: 0, Msg: "unclosed expression"}
}
