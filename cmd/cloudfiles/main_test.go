package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloudfiles/pkg/swiftsim/simtest"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	env := simtest.New(t)
	t.Setenv(envPrefix+"IDENTITY_URL", env.IdentityURL())
	t.Setenv(envPrefix+"USERNAME", simtest.Username)
	t.Setenv(envPrefix+"API_KEY", simtest.APIKey)
	t.Setenv(envPrefix+"REGION", simtest.Region)

	_, err := run(t, "", "mkdir", "docs")
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello from disk"), 0o644))
	out, err := run(t, "", "put", "docs", src)
	require.NoError(t, err)
	assert.Contains(t, out, "docs/notes.txt")

	_, err = run(t, "piped", "put", "docs", "-", "--name", "dir/stdin.txt")
	require.NoError(t, err)

	out, err = run(t, "", "ls", "docs", "--delimiter", "/")
	require.NoError(t, err)
	assert.Equal(t, "dir/\nnotes.txt\n", out)

	out, err = run(t, "", "get", "docs", "notes.txt", "--offset", "6", "--size", "4")
	require.NoError(t, err)
	assert.Equal(t, "from", out)

	out, err = run(t, "", "containers")
	require.NoError(t, err)
	assert.Contains(t, out, "docs")

	out, err = run(t, "", "tempurl", "docs", "notes.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "temp_url_sig=")

	out, err = run(t, "", "cdn", "enable", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, "Enabled:       true")

	_, err = run(t, "", "rm", "docs")
	assert.Error(t, err)

	out, err = run(t, "", "rm", "docs", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 objects")
	assert.Contains(t, out, "Deleted container docs")
}

func TestPutStdinRequiresName(t *testing.T) {
	env := simtest.New(t)
	t.Setenv(envPrefix+"IDENTITY_URL", env.IdentityURL())
	t.Setenv(envPrefix+"USERNAME", simtest.Username)
	t.Setenv(envPrefix+"API_KEY", simtest.APIKey)

	_, err := run(t, "data", "put", "docs", "-")
	assert.Error(t, err)
}

func TestMissingCredentials(t *testing.T) {
	t.Setenv(envPrefix+"USERNAME", "")
	t.Setenv(envPrefix+"API_KEY", "")
	t.Setenv(envPrefix+"PASSWORD", "")

	_, err := run(t, "", "containers")
	assert.Error(t, err)
}
