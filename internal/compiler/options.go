package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/ir"
)

// Markdown-level extensions.
const (
	RemarkGFM            = "gfm"
	RemarkFootnote       = "footnote"
	RemarkTypographer    = "typographer"
	RemarkDefinitionList = "definition-list"
	RemarkFrontmatter    = "frontmatter"
)

// Tree-level extensions applied to the compiled template.
const (
	RehypeRaw           = "raw"
	RehypeSlug          = "slug"
	RehypeHighlight     = "highlight"
	RehypeExternalLinks = "external-links"
)

var (
	knownRemark = map[string]bool{
		RemarkGFM: true, RemarkFootnote: true, RemarkTypographer: true,
		RemarkDefinitionList: true, RemarkFrontmatter: true,
	}
	knownRehype = map[string]bool{
		RehypeRaw: true, RehypeSlug: true, RehypeHighlight: true, RehypeExternalLinks: true,
	}
)

// Options control compilation. The zero value is usable; Normalize fills
// in defaults.
type Options struct {
	Remark      []string       `json:"remark" mapstructure:"remark" yaml:"remark"`
	Rehype      []string       `json:"rehype" mapstructure:"rehype" yaml:"rehype"`
	OutputMode  ir.OutputMode  `json:"outputMode" mapstructure:"output_mode" yaml:"output_mode"`
	Development bool           `json:"development" mapstructure:"development" yaml:"development"`
	Scope       map[string]any `json:"scope,omitempty" mapstructure:"scope" yaml:"scope,omitempty"`
	// HighlightStyle names the chroma style used by the highlight extension.
	HighlightStyle string `json:"highlightStyle,omitempty" mapstructure:"highlight_style" yaml:"highlight_style,omitempty"`
}

// DefaultOptions returns GitHub-flavoured markdown with heading slugs.
func DefaultOptions() Options {
	return Options{
		Remark:     []string{RemarkGFM},
		Rehype:     []string{RehypeSlug},
		OutputMode: ir.OutputImmediate,
	}
}

// Normalize fills unset fields with defaults. Nil extension lists take
// the default set; empty non-nil lists stay empty.
func (o Options) Normalize() Options {
	def := DefaultOptions()
	if o.Remark == nil {
		o.Remark = def.Remark
	}
	if o.Rehype == nil {
		o.Rehype = def.Rehype
	}
	if o.OutputMode == "" {
		o.OutputMode = def.OutputMode
	}
	if o.HighlightStyle == "" {
		o.HighlightStyle = "github"
	}
	return o
}

// Validate reports unknown extension names and output modes.
func (o Options) Validate() error {
	for _, name := range o.Remark {
		if !knownRemark[name] {
			return mdxerrors.NewCompilationError(mdxerrors.ErrCodeUnknownExtension,
				fmt.Sprintf("unknown remark extension %q", name), "")
		}
	}
	for _, name := range o.Rehype {
		if !knownRehype[name] {
			return mdxerrors.NewCompilationError(mdxerrors.ErrCodeUnknownExtension,
				fmt.Sprintf("unknown rehype extension %q", name), "")
		}
	}
	switch o.OutputMode {
	case "", ir.OutputImmediate, ir.OutputModuleBody:
	default:
		return mdxerrors.NewCompilationError(mdxerrors.ErrCodeUnknownExtension,
			fmt.Sprintf("unknown output mode %q", o.OutputMode), "")
	}
	return nil
}

// Has reports whether a remark or rehype extension is enabled.
func (o Options) Has(name string) bool {
	for _, n := range o.Remark {
		if n == name {
			return true
		}
	}
	for _, n := range o.Rehype {
		if n == name {
			return true
		}
	}
	return false
}

// Fingerprint identifies the output of compiling source with o. Equal
// fingerprints mean equal templates.
func Fingerprint(source string, o Options) string {
	o = o.Normalize()

	// json.Marshal sorts map keys, so the encoding is stable.
	encoded, err := json.Marshal(o)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", o))
	}

	h := sha256.New()
	h.Write(encoded)
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}
