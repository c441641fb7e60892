// Package config provides configuration management for mdxflow using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports a YAML file (.mdxflow.yml), environment
// variable overrides with the MDXFLOW_ prefix, defaults, and validation. It
// covers the HTTP server, the MDX compiler, streaming render behaviour,
// document storage, the authorization gate, component directories, tracing
// and logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/mdxflow/internal/compiler"
)

// EnvPrefix prefixes every environment override, e.g. MDXFLOW_SERVER_PORT.
const EnvPrefix = "MDXFLOW"

// FileName is the config file looked up in the working directory.
const FileName = ".mdxflow"

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Compiler   compiler.Options `mapstructure:"compiler" yaml:"compiler"`
	Render     RenderConfig     `mapstructure:"render" yaml:"render"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Auth       AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Components ComponentsConfig `mapstructure:"components" yaml:"components"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	Host            string        `mapstructure:"host" yaml:"host"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Environment     string        `mapstructure:"environment" yaml:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RenderConfig struct {
	Hydrate bool `mapstructure:"hydrate" yaml:"hydrate"`
	Strict  bool `mapstructure:"strict" yaml:"strict"`
	// BoundaryTimeout fails suspense boundaries that take longer. Zero
	// waits indefinitely.
	BoundaryTimeout time.Duration `mapstructure:"boundary_timeout" yaml:"boundary_timeout"`
	// CacheSize bounds the compiled template cache in bytes of source.
	// Zero disables caching.
	CacheSize   int64         `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Compression []string      `mapstructure:"compression" yaml:"compression"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	Path        string `mapstructure:"path" yaml:"path"`
	Compression string `mapstructure:"compression" yaml:"compression"`
}

type AuthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Tokens maps accepted tokens to principals.
	Tokens map[string]string `mapstructure:"tokens" yaml:"tokens"`
}

type ComponentsConfig struct {
	Dirs     []string `mapstructure:"dirs" yaml:"dirs"`
	Watch    bool     `mapstructure:"watch" yaml:"watch"`
	Builtins bool     `mapstructure:"builtins" yaml:"builtins"`
}

type TracingConfig struct {
	// Endpoint is the OTLP gRPC collector. Empty disables tracing.
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	def := compiler.DefaultOptions()
	v.SetDefault("compiler.remark", def.Remark)
	v.SetDefault("compiler.rehype", def.Rehype)
	v.SetDefault("compiler.output_mode", string(def.OutputMode))
	v.SetDefault("compiler.development", false)

	v.SetDefault("render.hydrate", true)
	v.SetDefault("render.strict", false)
	v.SetDefault("render.boundary_timeout", 0)
	v.SetDefault("render.cache_size", 0)
	v.SetDefault("render.cache_ttl", time.Hour)
	v.SetDefault("render.compression", []string{"br", "zstd", "gzip"})

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.path", ".mdxflow/documents.db")
	v.SetDefault("storage.compression", "zstd")

	v.SetDefault("auth.enabled", false)

	v.SetDefault("components.dirs", []string{"./components"})
	v.SetDefault("components.watch", true)
	v.SetDefault("components.builtins", true)

	v.SetDefault("tracing.service_name", "mdxflow")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Init points v at the config file and environment. An empty file means
// .mdxflow.yml in the working directory.
func Init(v *viper.Viper, file string) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Compiler = config.Compiler.Normalize()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	return Validate(config).Err()
}
