package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
default:
  limit: 20
  window_seconds: 10
rules:
  - path: /api/v1/auth/login
    limit: 5
    window_seconds: 60
  - path: /api/v1/reports/export/
    limit: 1
    window_seconds: 3600
`

func writePolicy(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadPolicy(t *testing.T) {
	t.Run("built-in rules when no file is given", func(t *testing.T) {
		table, err := config.LoadPolicy("", 100, 60)

		require.NoError(t, err)
		assert.Equal(t, ratelimit.NewPolicy(5, 60), table.Resolve("/api/v1/auth/login"))
		assert.Equal(t, ratelimit.NewPolicy(3, 300), table.Resolve("/api/v1/auth/register"))
		assert.Equal(t, ratelimit.NewPolicy(50, 60), table.Resolve("/api/v1/qwen/chat"))
		assert.Equal(t, ratelimit.NewPolicy(100, 60), table.Resolve("/api/v1/users/me"))
		assert.Equal(t, ratelimit.NewPolicy(100, 60), table.Resolve("/elsewhere"))
	})

	t.Run("flag default applies to built-in rules", func(t *testing.T) {
		table, err := config.LoadPolicy("", 7, 15)

		require.NoError(t, err)
		assert.Equal(t, ratelimit.NewPolicy(7, 15), table.Default())
	})

	t.Run("reads rules and default from file", func(t *testing.T) {
		table, err := config.LoadPolicy(writePolicy(t, samplePolicy), 100, 60)

		require.NoError(t, err)
		assert.Equal(t, ratelimit.NewPolicy(20, 10), table.Default())
		assert.Equal(t, ratelimit.NewPolicy(5, 60), table.Resolve("/api/v1/auth/login"))
		assert.Equal(t, ratelimit.NewPolicy(1, 3600), table.Resolve("/api/v1/reports/export"),
			"rule paths are normalized")
	})

	t.Run("rejects a zero window", func(t *testing.T) {
		body := "rules:\n  - path: /a/b\n    limit: 1\n    window_seconds: 0\n"

		_, err := config.LoadPolicy(writePolicy(t, body), 100, 60)

		require.ErrorIs(t, err, ratelimit.ErrInvalidWindow)
	})

	t.Run("rejects a negative limit", func(t *testing.T) {
		body := "default:\n  limit: -1\n  window_seconds: 60\n"

		_, err := config.LoadPolicy(writePolicy(t, body), 100, 60)

		require.ErrorIs(t, err, ratelimit.ErrNegativeLimit)
	})

	t.Run("rejects an invalid flag default", func(t *testing.T) {
		_, err := config.LoadPolicy("", 100, 0)

		require.ErrorIs(t, err, ratelimit.ErrInvalidWindow)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		body := "rules:\n  - path: /a/b\n    limit: 1\n    window: 60\n"

		_, err := config.LoadPolicy(writePolicy(t, body), 100, 60)

		require.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := config.LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"), 100, 60)

		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestParse_Empty(t *testing.T) {
	f, err := config.Parse(strings.NewReader(""))

	require.NoError(t, err)
	assert.Nil(t, f.Default)
	assert.Empty(t, f.Rules)
}
