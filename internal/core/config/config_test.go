package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "=", cfg.Delimiter("="))
	assert.True(t, cfg.Lowercase(true))
	assert.Equal(t, int64(42), cfg.RandomSeed(42))
	assert.Equal(t, "", cfg.PromptFile(""))
}

func TestLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	content := `[defaults]
delimiter = ":"
lowercase = false
random_seed = 7
prompt_file = "prompts.json"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":", cfg.Delimiter("="))
	assert.False(t, cfg.Lowercase(true))
	assert.Equal(t, int64(7), cfg.RandomSeed(42))
	assert.Equal(t, "prompts.json", cfg.PromptFile(""))
}

func TestLoadInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("delimiter = ["), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	lowercase := false
	seed := int64(11)
	cfg := &Config{Defaults: Defaults{
		Delimiter:  ":",
		Lowercase:  &lowercase,
		RandomSeed: &seed,
	}}
	require.NoError(t, Write(dir, cfg))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Defaults.Delimiter, loaded.Defaults.Delimiter)
	require.NotNil(t, loaded.Defaults.Lowercase)
	assert.False(t, *loaded.Defaults.Lowercase)
	require.NotNil(t, loaded.Defaults.RandomSeed)
	assert.Equal(t, int64(11), *loaded.Defaults.RandomSeed)
}
