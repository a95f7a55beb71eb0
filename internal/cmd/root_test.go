package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestRootCmd_Execute(t *testing.T) {
	t.Run("root command shows help", func(t *testing.T) {
		_, err := executeCmd(t)
		assert.NoError(t, err)
	})

	t.Run("help flag", func(t *testing.T) {
		output, err := executeCmd(t, "--help")
		assert.NoError(t, err)
		assert.Contains(t, output, "rigging")
		assert.Contains(t, output, "profile list <category>")
	})

	t.Run("version flag", func(t *testing.T) {
		output, err := executeCmd(t, "--version")
		assert.NoError(t, err)
		assert.Contains(t, output, "rigging version "+version)
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := executeCmd(t, "provision")
		assert.Error(t, err)
	})
}

func TestRootCmd_Structure(t *testing.T) {
	resetRootCmd(t)
	commandNames := make([]string, 0)
	for _, cmd := range rootCmd.Commands() {
		commandNames = append(commandNames, cmd.Name())
	}

	for _, name := range []string{"serve", "profile", "composite", "preview", "commit", "categories", "dependents", "snapshot", "doctor"} {
		assert.Contains(t, commandNames, name)
	}

	for _, flag := range []string{"config", "server", "no-color"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestCategoriesCmd(t *testing.T) {
	t.Run("all", func(t *testing.T) {
		output, err := executeCmd(t, "categories")
		assert.NoError(t, err)
		assert.Contains(t, output, "pod_metadata")
		assert.Contains(t, output, "lifecycle")
		assert.Contains(t, output, "Deployment, Pod")
	})

	t.Run("by kind", func(t *testing.T) {
		output, err := executeCmd(t, "categories", "--kind", "Service")
		assert.NoError(t, err)
		assert.Contains(t, output, "service_selector")
		assert.NotContains(t, output, "pod_metadata")
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := executeCmd(t, "categories", "--kind", "CronJob")
		assert.Error(t, err)
	})
}

func TestCompleteCategories(t *testing.T) {
	resetRootCmd(t)

	names, dir := completeCategories(profileListCmd, nil, "s")
	assert.Equal(t, []string{"service_metadata", "service_selector", "scheduling"}, names)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, dir)

	names, _ = completeCategories(profileListCmd, []string{"env"}, "")
	assert.Nil(t, names)
}

func TestDoctorCmd(t *testing.T) {
	t.Run("local store", func(t *testing.T) {
		localEnv(t)
		output, err := executeCmd(t, "doctor")
		assert.NoError(t, err, output)
		assert.Contains(t, output, "config: defaults")
		assert.Contains(t, output, "store: sqlite")
		assert.Contains(t, output, "lock: free")
	})

	t.Run("invalid config", func(t *testing.T) {
		localEnv(t)
		t.Setenv("RIGGING_STORE_DRIVER", "postgres")
		output, err := executeCmd(t, "doctor")
		assert.Error(t, err)
		assert.Contains(t, output, "config:")
	})

	t.Run("server down", func(t *testing.T) {
		localEnv(t)
		output, err := executeCmd(t, "--server", "http://127.0.0.1:1", "doctor")
		assert.Error(t, err)
		assert.Contains(t, output, "server:")
	})
}
