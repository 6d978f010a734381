// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/0xsoniclabs/statetrees/database/jmt"
	"github.com/0xsoniclabs/statetrees/database/mpt"
	"github.com/stretchr/testify/require"
)

func TestAllCommands_Run(t *testing.T) {
	for _, cmd := range commands {
		t.Run(cmd.Name, func(t *testing.T) {
			os.Args = []string{"tool", cmd.Name, "--help"}
			main() // ensure commands can be invoked without error
		})
	}
}

func TestMain_ErrorArgument(t *testing.T) {
	cmd := exec.Command("go", "run", ".", "--nonexistent-command")
	err := cmd.Run()
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok, "expected process to exit with error")
	require.Equal(t, 1, exitErr.ExitCode(), "expected exit code 1")
}

// run executes the tool with the given arguments and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"tool", "--verbosity", "1"}, args...))
	return out.String(), err
}

func TestJmtCommands_WorkOnLevelDb(t *testing.T) {
	require := require.New(t)
	dir := filepath.Join(t.TempDir(), "db")
	backend := []string{"--backend", "ldb", "--db", dir}

	out, err := run(t, append(backend, "jmt-load", "--versions", "5", "--updates", "50", "--key-space", "100")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 5")
	require.Contains(out, "Commit time:")

	out, err = run(t, append(backend, "info")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 5")
	require.Contains(out, "Disk usage:")

	out, err = run(t, append(backend, "prove", "--key", "0x0000000000000003")...)
	require.NoError(err)
	require.Contains(out, "Version:  5")
	require.Contains(out, "Proof:    0x")

	out, err = run(t, append(backend, "prune", "--keep", "2")...)
	require.NoError(err)
	require.Contains(out, "Removed")

	_, err = run(t, append(backend, "prove", "--key", "0x03", "--version", "1")...)
	require.ErrorIs(err, jmt.ErrVersionNotFound)

	// Loading continues with the next version.
	out, err = run(t, append(backend, "jmt-load", "--versions", "2", "--updates", "10", "--prune", "--keep", "1")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 7")
	require.Contains(out, "Pruned records:")
}

func TestJmtCommands_WorkOnSqlite(t *testing.T) {
	require := require.New(t)
	backend := []string{"--backend", "sql", "--db", "sqlite3:" + filepath.Join(t.TempDir(), "tree.db")}

	_, err := run(t, append(backend, "info")...)
	require.Error(err, "schema is missing")

	out, err := run(t, append(backend, "init-schema")...)
	require.NoError(err)
	require.Contains(out, "Provisioned sqlite3 schema")

	_, err = run(t, append(backend, "jmt-load", "--versions", "3", "--updates", "20")...)
	require.NoError(err)

	out, err = run(t, append(backend, "info")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 3")
}

func TestMptCommands_WorkOnLevelDb(t *testing.T) {
	require := require.New(t)
	dir := filepath.Join(t.TempDir(), "db")
	backend := []string{"--backend", "ldb", "--db", dir, "--scheme", "MPF"}

	out, err := run(t, append(backend, "mpt-load", "--batches", "3", "--updates", "100", "--key-space", "10")...)
	require.NoError(err)
	match := regexp.MustCompile(`Root hash:\s+(0x[0-9a-f]{64})`).FindStringSubmatch(out)
	require.Len(match, 2, "output: %s", out)
	root := match[1]

	for _, format := range [][]string{nil, {"--mpf"}} {
		args := append(append(backend, "prove", "--tree", "mpt", "--root", root, "--key", "0x0000000000000003"), format...)
		out, err = run(t, args...)
		require.NoError(err)
		require.Contains(out, "Proof:    0x")
		require.NotContains(out, "absent")
	}

	out, err = run(t, append(backend, "prove", "--tree", "mpt", "--mpf", "--key", "0x0000000000000003")...)
	require.NoError(err)
	require.Contains(out, "Version:  3")
	require.Contains(out, "Root:     "+root)

	out, err = run(t, append(backend, "info", "--tree", "mpt")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 3")
	require.Contains(out, "Roots:          3")

	// Loading continues with the next version.
	out, err = run(t, append(backend, "mpt-load", "--batches", "2", "--updates", "100", "--key-space", "10")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 5")

	out, err = run(t, append(backend, "prune", "--tree", "mpt", "--keep", "2")...)
	require.NoError(err)
	require.Contains(out, "Removed roots: 3")
	require.Contains(out, "Retained roots: 2")

	_, err = run(t, append(backend, "prove", "--tree", "mpt", "--key", "0x03", "--version", "3")...)
	require.ErrorIs(err, mpt.ErrUnknownVersion)
	_, err = run(t, append(backend, "prove", "--tree", "mpt", "--key", "0x03", "--version", "4")...)
	require.NoError(err)

	out, err = run(t, append(backend, "info", "--tree", "mpt")...)
	require.NoError(err)
	require.Contains(out, "Roots:          2")
}

func TestMptCommands_WorkOnSqlite(t *testing.T) {
	require := require.New(t)
	backend := []string{"--backend", "sql", "--db", "sqlite3:" + filepath.Join(t.TempDir(), "trie.db")}

	_, err := run(t, append(backend, "init-schema")...)
	require.NoError(err)

	_, err = run(t, append(backend, "prove", "--tree", "mpt", "--key", "0x03")...)
	require.ErrorContains(err, "no recorded version")

	out, err := run(t, append(backend, "mpt-load", "--batches", "4", "--updates", "50", "--key-space", "20")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 4")

	out, err = run(t, append(backend, "prune", "--tree", "mpt", "--version", "3")...)
	require.NoError(err)
	require.Contains(out, "Removed roots: 2")

	out, err = run(t, append(backend, "info", "--tree", "mpt")...)
	require.NoError(err)
	require.Contains(out, "Latest version: 4")
	require.Contains(out, "Roots:          2")

	out, err = run(t, append(backend, "prove", "--tree", "mpt", "--key", "0x0000000000000003", "--version", "3")...)
	require.NoError(err)
	require.Contains(out, "Version:  3")
}

func TestConfigFile_ProvidesDefaultsOverriddenByFlags(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "tool.toml")
	require.NoError(os.WriteFile(file, []byte(`
backend = "ldb"
db = "`+filepath.Join(dir, "db")+`"
hashing = "keccak256"

[prune]
keep_latest = 1
retry_delay = "10ms"
`), 0600))

	_, err := run(t, "--config", file, "jmt-load", "--versions", "3", "--updates", "10")
	require.NoError(err)

	out, err := run(t, "--config", file, "info")
	require.NoError(err)
	require.Contains(out, "Latest version: 3")

	out, err = run(t, "--config", file, "--backend", "memory", "info")
	require.NoError(err)
	require.Contains(out, "Latest version: none")

	out, err = run(t, "--config", file, "prune")
	require.NoError(err)
	require.Contains(out, "Removed")
}

func TestConfig_InvalidSettingsAreRejected(t *testing.T) {
	_, err := run(t, "--backend", "unknown", "info")
	require.ErrorContains(t, err, "unknown backend")

	_, err = run(t, "--backend", "ldb", "info")
	require.ErrorContains(t, err, "requires --db")

	_, err = run(t, "--hashing", "md5", "jmt-load", "--versions", "1")
	require.Error(t, err)

	_, err = run(t, "--backend", "memory", "init-schema")
	require.ErrorContains(t, err, "requires the sql backend")
}

func TestGetDirectorySize(t *testing.T) {
	dir := t.TempDir()
	data := []byte("hello world")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), data, 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), data, 0644))

	require.Equal(t, int64(2*len(data)), getDirectorySize(dir))
	require.Equal(t, int64(len(data)), getDirectorySize(filepath.Join(dir, "a")))
	require.Zero(t, getDirectorySize("/path/does/not/exist"))
}

func TestGetMemoryUsage(t *testing.T) {
	require.Greater(t, getMemoryUsage(), uint64(0), "memory usage should be greater than zero")
}
