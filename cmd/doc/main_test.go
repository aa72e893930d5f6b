package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"chat", "ask", "models", "intent"} {
		assert.Contains(t, names, want)
	}
}

func TestArgs(t *testing.T) {
	require.Error(t, askCmd.Args(askCmd, nil))
	require.NoError(t, askCmd.Args(askCmd, []string{"why", "am", "I", "tired"}))
	require.Error(t, intentCmd.Args(intentCmd, nil))
	require.Error(t, modelsCmd.Args(modelsCmd, []string{"extra"}))
}

func TestChatFlags(t *testing.T) {
	f := chatCmd.Flags().Lookup("speak")
	require.NotNil(t, f)
	assert.Equal(t, "false", f.DefValue)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("patient"))
}
