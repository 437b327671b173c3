package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpayne/fleetwatch/pkg/config"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.NotNil(t, root)
	assert.NotNil(t, root.Command())
	assert.NotNil(t, root.OutputOptions())
}

func TestRootCommand_Commands(t *testing.T) {
	root := NewRootCommand()
	cmd := root.Command()

	subCommands := cmd.Commands()
	assert.GreaterOrEqual(t, len(subCommands), 4)
}

func TestRootCommand_Accessors(t *testing.T) {
	cfg := config.Default()
	opts := NewOutputOptions()

	root := &RootCommand{
		cfg:  cfg,
		opts: opts,
	}

	assert.Equal(t, cfg, root.Config())
	assert.Equal(t, opts, root.OutputOptions())
}

func TestRootCommand_PersistentPreRunE(t *testing.T) {
	root := NewRootCommand()
	cmd := root.Command()

	err := root.persistentPreRunE(cmd, []string{})
	require.NoError(t, err)

	assert.NotNil(t, root.Config())
	assert.Equal(t, OutputTable, root.OutputOptions().Format)
}

func TestRootCommand_Execute_Help(t *testing.T) {
	root := NewRootCommand()
	cmd := root.Command()

	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	err := root.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "fleetwatch")
}
