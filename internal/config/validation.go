package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"slices"
	"strings"

	"github.com/conneroisu/mdxflow/internal/compress"
	"github.com/conneroisu/mdxflow/internal/logging"
)

// Issue is one validation finding, keyed by its configuration path.
type Issue struct {
	Field   string
	Message string
	Hints   []string
}

func (i *Issue) Error() string {
	return i.Field + ": " + i.Message
}

// Report collects the findings of Validate. Errors make the configuration
// unusable; warnings do not.
type Report struct {
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether the configuration has no errors.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err joins every error, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Errors))
	for i := range r.Errors {
		errs[i] = &r.Errors[i]
	}
	return errors.Join(errs...)
}

func (r *Report) String() string {
	var b strings.Builder
	write := func(heading string, issues []Issue) {
		if len(issues) == 0 {
			return
		}
		b.WriteString(heading + ":\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "  %s\n", issue.Error())
			for _, hint := range issue.Hints {
				fmt.Fprintf(&b, "    hint: %s\n", hint)
			}
		}
	}
	write("errors", r.Errors)
	write("warnings", r.Warnings)
	return b.String()
}

func (r *Report) fail(field, msg string, hints ...string) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: msg, Hints: hints})
}

func (r *Report) warn(field, msg string, hints ...string) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: msg, Hints: hints})
}

// Validate checks every section of config.
func Validate(config *Config) *Report {
	r := &Report{}
	r.server(&config.Server)
	r.compiler(config)
	r.render(&config.Render)
	r.storage(&config.Storage)
	r.auth(&config.Auth)
	r.components(&config.Components)
	r.logging(&config.Logging)
	return r
}

var environments = []string{"development", "production", "testing"}

func (r *Report) server(s *ServerConfig) {
	switch {
	case s.Port < 0 || s.Port > 65535:
		r.fail("server.port", fmt.Sprintf("port %d is outside 0-65535", s.Port),
			"port 0 lets the system pick a free port")
	case s.Port > 0 && s.Port < 1024:
		r.warn("server.port", "ports below 1024 need elevated privileges")
	}

	if s.Host != "" {
		if err := validateHostname(s.Host); err != nil {
			r.fail("server.host", err.Error(), "use localhost, or 0.0.0.0 for every interface")
		}
	}
	if s.Environment != "" && !slices.Contains(environments, s.Environment) {
		r.warn("server.environment", fmt.Sprintf("unknown environment %q", s.Environment),
			"one of: "+strings.Join(environments, ", "))
	}
	if s.ShutdownTimeout < 0 {
		r.fail("server.shutdown_timeout", "must not be negative")
	}
}

func (r *Report) compiler(config *Config) {
	if err := config.Compiler.Validate(); err != nil {
		r.fail("compiler", err.Error(),
			"remark: gfm, footnote, typographer, definition-list, frontmatter",
			"rehype: raw, slug, highlight, external-links")
	}
	if slices.Contains(config.Compiler.Rehype, "raw") && config.Server.Environment == "production" {
		r.warn("compiler.rehype", "raw HTML is passed through to served pages")
	}
}

func (r *Report) render(c *RenderConfig) {
	if c.BoundaryTimeout < 0 {
		r.fail("render.boundary_timeout", "must not be negative", "0 waits for boundaries indefinitely")
	}
	if c.CacheSize < 0 {
		r.fail("render.cache_size", "must not be negative", "0 disables the template cache")
	}
	for _, name := range c.Compression {
		alg, err := compress.Parse(name)
		switch {
		case err != nil:
			r.fail("render.compression", err.Error(), "one of: br, zstd, gzip")
		case alg == compress.LZ4:
			r.fail("render.compression", "lz4 is not an HTTP content coding", "one of: br, zstd, gzip")
		}
	}
}

func (r *Report) storage(c *StorageConfig) {
	switch c.Driver {
	case "", "memory":
	case "file":
		if strings.TrimSpace(c.Path) == "" {
			r.fail("storage.path", "the file driver needs a path")
		}
	default:
		r.fail("storage.driver", fmt.Sprintf("unknown driver %q", c.Driver), "one of: memory, file")
	}
	if _, err := compress.Parse(c.Compression); err != nil {
		r.fail("storage.compression", err.Error(), "one of: none, gzip, zstd, br, lz4")
	}
}

func (r *Report) auth(c *AuthConfig) {
	if !c.Enabled {
		return
	}
	if len(c.Tokens) == 0 {
		r.fail("auth.tokens", "auth is enabled but no tokens are configured",
			"map each token to a principal under auth.tokens")
	}
	for token := range c.Tokens {
		if len(token) < 16 {
			r.warn("auth.tokens", "token shorter than 16 characters")
			break
		}
	}
}

func (r *Report) components(c *ComponentsConfig) {
	for _, dir := range c.Dirs {
		if err := validatePath(dir); err != nil {
			r.fail("components.dirs", fmt.Sprintf("%q: %v", dir, err))
		}
	}
}

func (r *Report) logging(c *LoggingConfig) {
	level := strings.ToLower(strings.TrimSpace(c.Level))
	if level != "" && level != "info" && logging.ParseLevel(level) == logging.LevelInfo {
		r.warn("logging.level", fmt.Sprintf("unknown level %q, using info", c.Level),
			"one of: debug, info, warn, error")
	}
	if c.Format != "" && c.Format != "text" && c.Format != "json" {
		r.fail("logging.format", fmt.Sprintf("unknown format %q", c.Format), "one of: text, json")
	}
}

const shellMeta = ";&|$`()<>\"'\\"

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	if i := strings.IndexAny(host, shellMeta); i >= 0 {
		return fmt.Errorf("host contains %q", host[i])
	}
	if host == "localhost" || net.ParseIP(host) != nil {
		return nil
	}
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname %q", host)
	}
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	if i := strings.IndexAny(path, shellMeta[:len(shellMeta)-1]+"\x00"); i >= 0 {
		return fmt.Errorf("path contains %q", path[i])
	}
	return nil
}
