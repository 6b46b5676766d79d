package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/postpainter/internal/apperr"
	"github.com/jo-hoe/postpainter/internal/llm"
	"github.com/jo-hoe/postpainter/internal/provider"
)

const minimal = `
site:
  url: https://blog.example.com/
  username: editor
  applicationPassword: abcd efgh ijkl
`

func TestParseByteSize_K8sAndCommonUnits(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1024", 1024},
		{"1Ki", 1024},
		{"1KiB", 1024},
		{"2Mi", 2 * 1024 * 1024},
		{"2MiB", 2 * 1024 * 1024},
		{"3Gi", 3 * 1024 * 1024 * 1024},
		{"3GiB", 3 * 1024 * 1024 * 1024},
		{"10KB", 10 * 1000},
		{"10MB", 10 * 1000 * 1000},
		{"2GB", 2 * 1000 * 1000 * 1000},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
	_, err := ParseByteSize("bad")
	assert.Error(t, err)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "https://blog.example.com", cfg.Site.URL)
	assert.Equal(t, "abcd efgh ijkl", cfg.Site.ApplicationPassword)
	assert.Equal(t, provider.Gemini, cfg.Text.Provider)
	assert.Equal(t, provider.Gemini, cfg.Image.Provider)
	assert.Equal(t, "image/jpeg", cfg.ImageSettings.Format)
	assert.Equal(t, 85, cfg.ImageSettings.Quality)
	assert.Equal(t, llm.AspectLandscape, cfg.ImageSettings.AspectRatio)
	assert.Equal(t, 1, cfg.Pipeline.Concurrency)
	assert.Equal(t, 20, cfg.Pipeline.BatchSize)
	assert.Equal(t, time.Second, cfg.Pipeline.BatchDelay)
	assert.True(t, cfg.Pipeline.OnlyMissingImagery())
	assert.Equal(t, FeaturedIfMissing, cfg.Pipeline.FeaturedPolicy)
	assert.Equal(t, llm.DefaultTimeout, cfg.Gateway.Timeout)
	assert.Equal(t, llm.DefaultMaxConcurrent, cfg.Gateway.MaxConcurrent)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ByteSize(1024*1024), cfg.Server.MaxRequestSize)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Empty(t, cfg.Server.DatabasePath)

	creds := cfg.CMSCredentials()
	assert.Equal(t, "https://blog.example.com", creds.SiteURL)
	assert.Equal(t, "editor", creds.Username)
}

func TestParse_SharedHolderCredential(t *testing.T) {
	t.Setenv("GOOGLE_KEY", "g-secret")
	cfg, err := Parse([]byte(minimal + `
credentials:
  google: ${GOOGLE_KEY}
text:
  provider: gemini
image:
  provider: gemini
`))
	require.NoError(t, err)

	assert.Equal(t, "g-secret", cfg.TextProvider().APIKey)
	assert.Equal(t, "g-secret", cfg.ImageProvider().APIKey)
	assert.Equal(t, provider.KindImage, cfg.ImageProvider().Kind)
	assert.Empty(t, cfg.MissingCredentials())
	assert.NoError(t, cfg.TextProvider().Validate())
}

func TestMissingCredentials_DedupByHolder(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want []provider.Holder
	}{
		{
			name: "gemini for both asks google once",
			yaml: "text:\n  provider: gemini\nimage:\n  provider: gemini\n",
			want: []provider.Holder{provider.HolderGoogle},
		},
		{
			name: "two holders",
			yaml: "text:\n  provider: groq\n  model: llama-3.1-8b-instant\nimage:\n  provider: openai\n",
			want: []provider.Holder{provider.HolderGroq, provider.HolderOpenAI},
		},
		{
			name: "free image provider needs nothing",
			yaml: "text:\n  provider: openai\n  model: gpt-4o-mini\nimage:\n  provider: pollinations\n",
			want: []provider.Holder{provider.HolderOpenAI},
		},
		{
			name: "selection key override",
			yaml: "text:\n  provider: openai\n  model: gpt-4o-mini\n  apiKey: sk-1\nimage:\n  provider: openai\n",
			want: []provider.Holder(nil),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimal + tc.yaml))
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.MissingCredentials())
		})
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		msg  string
	}{
		{"missing site", "text:\n  provider: gemini\n", "site.url is required"},
		{"bad scheme", "site:\n  url: ftp://x\n  username: u\n  applicationPassword: p\n", "http"},
		{"model required", minimal + "text:\n  provider: openrouter\n", "text.model is required"},
		{"fixed model rejects override", minimal + "image:\n  provider: gemini\n  model: other\n", "does not accept"},
		{"unknown provider", minimal + "image:\n  provider: midjourney\n", "unknown image provider"},
		{"quality step", minimal + "imageSettings:\n  quality: 42\n", "steps of 5"},
		{"quality range", minimal + "imageSettings:\n  quality: 5\n", "between 10 and 100"},
		{"format", minimal + "imageSettings:\n  format: image/gif\n", "imageSettings.format"},
		{"aspect", minimal + "imageSettings:\n  aspectRatio: wide\n", "aspectRatio"},
		{"featured policy", minimal + "pipeline:\n  featuredPolicy: sometimes\n", "featuredPolicy"},
		{"archive bucket", minimal + "archive:\n  enabled: true\n", "archive.bucket"},
		{"log level", minimal + "server:\n  logLevel: loud\n", "logLevel"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestParse_ProviderRulesAreValidationErrors(t *testing.T) {
	_, err := Parse([]byte(minimal + "text:\n  provider: openrouter\n"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// Missing secrets do not fail parsing; MissingCredentials reports them.
	cfg, err := Parse([]byte(minimal + "text:\n  provider: openai\n  model: gpt-4o-mini\n"))
	require.NoError(t, err)
	assert.Contains(t, cfg.MissingCredentials(), provider.HolderOpenAI)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
imageSettings:
  format: image/jpg
  quality: 70
  aspectRatio: portrait
  style: watercolor
pipeline:
  concurrency: 3
  maxPosts: 10
  onlyMissing: false
  featuredPolicy: always
  batchDelay: 250ms
gateway:
  requestsPerMinute: 30
archive:
  enabled: true
  bucket: images
server:
  maxRequestSize: 2Mi
`))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", cfg.ImageSettings.Format)
	assert.Equal(t, 70, cfg.ImageSettings.Quality)
	assert.Equal(t, llm.AspectPortrait, cfg.ImageSettings.AspectRatio)
	assert.Equal(t, 3, cfg.Pipeline.Concurrency)
	assert.Equal(t, 10, cfg.Pipeline.MaxPosts)
	assert.False(t, cfg.Pipeline.OnlyMissingImagery())
	assert.Equal(t, FeaturedAlways, cfg.Pipeline.FeaturedPolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.BatchDelay)
	assert.Equal(t, 30, cfg.Gateway.RequestsPerMinute)
	assert.Equal(t, "auto", cfg.Archive.Region)
	assert.Equal(t, ByteSize(2*1024*1024), cfg.Server.MaxRequestSize)
}

func TestLoad_ResolvesPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	t.Setenv(EnvConfigPath, path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "editor", cfg.Site.Username)

	assert.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml"))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("POSTPAINTER_TEST_SECRET=from-dotenv\n"), 0o600))

	t.Setenv("POSTPAINTER_TEST_SECRET", "")
	require.NoError(t, os.Unsetenv("POSTPAINTER_TEST_SECRET"))
	require.NoError(t, LoadDotEnv(envFile, filepath.Join(dir, "absent.env")))
	assert.Equal(t, "from-dotenv", os.Getenv("POSTPAINTER_TEST_SECRET"))
}
