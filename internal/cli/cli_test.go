package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range RootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "purge"} {
		assert.True(t, names[want], "missing %s", want)
	}

	f := serveCmd.Flags().Lookup("no-worker")
	require.NotNil(t, f)
	assert.Equal(t, "false", f.DefValue)
}

func TestServeRejectsArgs(t *testing.T) {
	RootCmd.SetArgs([]string{"serve", "extra"})
	t.Cleanup(func() { RootCmd.SetArgs(nil) })
	require.Error(t, RootCmd.Execute())
}
