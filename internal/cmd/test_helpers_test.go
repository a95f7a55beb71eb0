package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// resetRootCmd resets the root command state for test isolation.
// Flag variables are package-level, so every flag is set back to its default
// or a value from an earlier execution would leak into the next one.
func resetRootCmd(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	// Reset args to empty slice (not nil, which would use os.Args)
	rootCmd.SetArgs([]string{})
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	resetFlags(rootCmd)
	return buf
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCmd executes the root command with the given args and returns the
// combined stdout and stderr.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := resetRootCmd(t)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// localEnv points the CLI at a fresh sqlite store in a temp data directory
// and isolates it from any real config file.
func localEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RIGGING_SERVER", "")
	t.Setenv("RIGGING_DATA_DIR", filepath.Join(dir, "data"))
	t.Chdir(dir)
	return dir
}

// writeFile writes content to name inside dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

var createdID = regexp.MustCompile(`\(([0-9a-f-]{36})\)`)

// createProfile runs `profile create` and returns the new id.
func createProfile(t *testing.T, dir, category, content string) string {
	t.Helper()
	path := writeFile(t, dir, category+".yaml", content)
	output, err := executeCmd(t, "profile", "create", category, "-f", path)
	require.NoError(t, err, output)
	m := createdID.FindStringSubmatch(output)
	require.Len(t, m, 2, "no id in %q", output)
	return m[1]
}
