package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateAndList(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--path", dir, "create", "Add order notes", "notes column")
	require.NoError(t, err)
	assert.Contains(t, out, "000001_add_order_notes.up.sql")
	assert.FileExists(t, filepath.Join(dir, "000001_add_order_notes.down.sql"))

	_, err = execute(t, "--path", dir, "create", "index customers")
	require.NoError(t, err)

	out, err = execute(t, "--path", dir, "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_add_order_notes", "000002_index_customers"}, strings.Fields(out))
}

func TestStepRejectsNonNumeric(t *testing.T) {
	_, err := execute(t, "step", "one")
	assert.ErrorContains(t, err, `invalid step count "one"`)
}

func TestWithMigratorRequiresPostgres(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[database]\ndriver = \"sqlite\"\n"), 0o644))

	_, err := execute(t, "--config", cfg, "--log-level", "error", "version")
	assert.ErrorContains(t, err, `configured driver is "sqlite"`)
}

func TestMigrationsDir(t *testing.T) {
	dir := t.TempDir()
	got, err := migrationsDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}
