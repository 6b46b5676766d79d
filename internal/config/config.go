package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/postpainter/internal/cms"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
)

// EnvConfigPath names the variable consulted when no config path is given.
const EnvConfigPath = "POSTPAINTER_CONFIG"

// FeaturedPolicy decides whether the generated image becomes the featured image.
type FeaturedPolicy string

const (
	FeaturedIfMissing FeaturedPolicy = "if-missing"
	FeaturedAlways    FeaturedPolicy = "always"
	FeaturedNever     FeaturedPolicy = "never"
)

// Valid reports whether p is a known policy.
func (p FeaturedPolicy) Valid() bool {
	switch p {
	case FeaturedIfMissing, FeaturedAlways, FeaturedNever:
		return true
	}
	return false
}

// Config is the root configuration loaded from YAML.
type Config struct {
	Site          SiteConfig                 `yaml:"site"`
	Credentials   map[provider.Holder]string `yaml:"credentials"`
	Text          ProviderSelection          `yaml:"text"`
	Image         ProviderSelection          `yaml:"image"`
	ImageSettings llm.ImageSettings          `yaml:"imageSettings"`
	Pipeline      PipelineConfig             `yaml:"pipeline"`
	Gateway       GatewayConfig              `yaml:"gateway"`
	Archive       ArchiveConfig              `yaml:"archive"`
	Server        ServerConfig               `yaml:"server"`
}

// SiteConfig addresses the WordPress site.
type SiteConfig struct {
	URL                 string `yaml:"url"`
	Username            string `yaml:"username"`
	ApplicationPassword string `yaml:"applicationPassword"`
}

// ProviderSelection picks a provider. APIKey overrides the holder's shared secret.
type ProviderSelection struct {
	Provider provider.ID `yaml:"provider"`
	Model    string      `yaml:"model"`
	APIKey   string      `yaml:"apiKey"`
}

// PipelineConfig tunes a processing run.
type PipelineConfig struct {
	Concurrency      int            `yaml:"concurrency"`
	BatchSize        int            `yaml:"batchSize"`
	BatchDelay       time.Duration  `yaml:"batchDelay"`
	PageSize         int            `yaml:"pageSize"`
	MaxPosts         int            `yaml:"maxPosts"` // 0 means no limit
	OnlyMissing      *bool          `yaml:"onlyMissing"`
	FeaturedPolicy   FeaturedPolicy `yaml:"featuredPolicy"` // if-missing|always|never
	PlacementTimeout time.Duration  `yaml:"placementTimeout"`
	CallbackRetries  int            `yaml:"callbackRetries"`
	CallbackBackoff  time.Duration  `yaml:"callbackBackoff"`
}

// GatewayConfig tunes provider calls.
type GatewayConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxConcurrent     int           `yaml:"maxConcurrent"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
	RetryAttempts     int           `yaml:"retryAttempts"`
	RetryInitialDelay time.Duration `yaml:"retryInitialDelay"`
}

// ArchiveConfig enables copying generated images to S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	PathStyle bool   `yaml:"pathStyle"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr           string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxRequestSize ByteSize      `yaml:"maxRequestSize"`
	APIKey         string        `yaml:"apiKey"`       // optional static API key header (X-API-Key)
	DatabasePath   string        `yaml:"databasePath"` // empty keeps run state in memory
	ShutdownGrace  time.Duration `yaml:"shutdownGrace"`
	LogLevel       string        `yaml:"logLevel"` // debug|info|warn|error
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)
	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// ResolvePath picks the explicit path, then POSTPAINTER_CONFIG, then config.yaml.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return "config.yaml"
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads YAML config from path, expands environment variables, and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(ResolvePath(path))
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates raw YAML.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Site.URL = strings.TrimRight(strings.TrimSpace(cfg.Site.URL), "/")
	cfg.Site.ApplicationPassword = strings.TrimSpace(cfg.Site.ApplicationPassword)

	if cfg.Credentials == nil {
		cfg.Credentials = map[provider.Holder]string{}
	}
	if cfg.Text.Provider == "" {
		cfg.Text.Provider = provider.Gemini
	}
	if cfg.Image.Provider == "" {
		cfg.Image.Provider = provider.Gemini
	}

	s := &cfg.ImageSettings
	if s.Format == "" {
		s.Format = "image/jpeg"
	}
	if s.Format == "image/jpg" {
		s.Format = "image/jpeg"
	}
	if s.Quality == 0 {
		s.Quality = 85
	}
	if s.AspectRatio == "" {
		s.AspectRatio = llm.AspectLandscape
	}

	p := &cfg.Pipeline
	if p.Concurrency <= 0 {
		p.Concurrency = 1
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 20
	}
	if p.BatchDelay == 0 {
		p.BatchDelay = time.Second
	}
	if p.PageSize <= 0 {
		p.PageSize = 100
	}
	if p.OnlyMissing == nil {
		v := true
		p.OnlyMissing = &v
	}
	if p.FeaturedPolicy == "" {
		p.FeaturedPolicy = FeaturedIfMissing
	}
	if p.PlacementTimeout == 0 {
		p.PlacementTimeout = 15 * time.Second
	}
	if p.CallbackRetries == 0 {
		p.CallbackRetries = 3
	}
	if p.CallbackBackoff == 0 {
		p.CallbackBackoff = 2 * time.Second
	}

	g := &cfg.Gateway
	if g.Timeout == 0 {
		g.Timeout = llm.DefaultTimeout
	}
	if g.MaxConcurrent <= 0 {
		g.MaxConcurrent = llm.DefaultMaxConcurrent
	}
	if g.RetryAttempts <= 0 {
		g.RetryAttempts = 3
	}
	if g.RetryInitialDelay == 0 {
		g.RetryInitialDelay = 2 * time.Second
	}

	if cfg.Archive.Enabled && cfg.Archive.Region == "" {
		cfg.Archive.Region = "auto"
	}

	srv := &cfg.Server
	if srv.Addr == "" {
		srv.Addr = ":8080"
	}
	if srv.ReadTimeout == 0 {
		srv.ReadTimeout = 15 * time.Second
	}
	if srv.WriteTimeout == 0 {
		srv.WriteTimeout = 30 * time.Minute
	}
	if srv.IdleTimeout == 0 {
		srv.IdleTimeout = 60 * time.Second
	}
	if srv.MaxRequestSize == 0 {
		srv.MaxRequestSize = ByteSize(1024 * 1024)
	}
	if srv.ShutdownGrace == 0 {
		srv.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(srv.LogLevel) == "" {
		srv.LogLevel = "info"
	}
}

func validate(cfg *Config) error {
	if cfg.Site.URL == "" {
		return errors.New("site.url is required")
	}
	if !strings.HasPrefix(cfg.Site.URL, "http://") && !strings.HasPrefix(cfg.Site.URL, "https://") {
		return fmt.Errorf("site.url must start with http:// or https://")
	}
	if strings.TrimSpace(cfg.Site.Username) == "" {
		return errors.New("site.username is required")
	}
	if cfg.Site.ApplicationPassword == "" {
		return errors.New("site.applicationPassword is required")
	}

	// Model rules only; missing secrets are reported by MissingCredentials.
	for _, pc := range []provider.Config{cfg.TextProvider(), cfg.ImageProvider()} {
		if err := pc.ValidateModel(); err != nil {
			return err
		}
	}

	if err := validateImageSettings(cfg.ImageSettings); err != nil {
		return err
	}

	if !cfg.Pipeline.FeaturedPolicy.Valid() {
		return fmt.Errorf("pipeline.featuredPolicy must be one of %s, %s, %s", FeaturedIfMissing, FeaturedAlways, FeaturedNever)
	}
	if cfg.Pipeline.MaxPosts < 0 {
		return errors.New("pipeline.maxPosts must not be negative")
	}
	if cfg.Pipeline.PageSize > 100 {
		return errors.New("pipeline.pageSize must not exceed 100")
	}

	if cfg.Archive.Enabled && strings.TrimSpace(cfg.Archive.Bucket) == "" {
		return errors.New("archive.bucket is required when archive.enabled is true")
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("server.logLevel %q is not one of debug, info, warn, error", cfg.Server.LogLevel)
	}
	return nil
}

var allowedFormats = map[string]bool{"image/jpeg": true, "image/png": true, "image/webp": true}

func validateImageSettings(s llm.ImageSettings) error {
	if !allowedFormats[s.Format] {
		return fmt.Errorf("imageSettings.format %q must be image/jpeg, image/png or image/webp", s.Format)
	}
	if s.Quality < 10 || s.Quality > 100 || s.Quality%5 != 0 {
		return fmt.Errorf("imageSettings.quality %d must be between 10 and 100 in steps of 5", s.Quality)
	}
	switch s.AspectRatio {
	case llm.AspectLandscape, llm.AspectSquare, llm.AspectPortrait:
	default:
		return fmt.Errorf("imageSettings.aspectRatio %q must be landscape, square or portrait", s.AspectRatio)
	}
	return nil
}

// TextProvider resolves the text provider selection with its secret.
func (c *Config) TextProvider() provider.Config {
	return c.resolve(provider.KindText, c.Text)
}

// ImageProvider resolves the image provider selection with its secret.
func (c *Config) ImageProvider() provider.Config {
	return c.resolve(provider.KindImage, c.Image)
}

func (c *Config) resolve(kind provider.Kind, sel ProviderSelection) provider.Config {
	pc := provider.Config{Kind: kind, Provider: sel.Provider, Model: strings.TrimSpace(sel.Model), APIKey: strings.TrimSpace(sel.APIKey)}
	if pc.APIKey == "" {
		if spec, ok := provider.Lookup(kind, sel.Provider); ok && spec.Holder != provider.HolderNone {
			pc.APIKey = strings.TrimSpace(c.Credentials[spec.Holder])
		}
	}
	return pc
}

// MissingCredentials lists the key holders of the selected providers that
// have no secret. A holder shared by text and image appears once.
func (c *Config) MissingCredentials() []provider.Holder {
	var out []provider.Holder
	seen := map[provider.Holder]bool{}
	for _, pc := range []provider.Config{c.TextProvider(), c.ImageProvider()} {
		spec, ok := provider.Lookup(pc.Kind, pc.Provider)
		if !ok || spec.Holder == provider.HolderNone || seen[spec.Holder] {
			continue
		}
		seen[spec.Holder] = true
		if pc.APIKey == "" {
			out = append(out, spec.Holder)
		}
	}
	return out
}

// CMSCredentials returns the site credentials for the CMS gateway.
func (c *Config) CMSCredentials() cms.Credentials {
	return cms.Credentials{SiteURL: c.Site.URL, Username: c.Site.Username, Password: c.Site.ApplicationPassword}
}

// OnlyMissingImagery reports whether runs skip posts that already have imagery.
func (p PipelineConfig) OnlyMissingImagery() bool {
	return p.OnlyMissing == nil || *p.OnlyMissing
}
