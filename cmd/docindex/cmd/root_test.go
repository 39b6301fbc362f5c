package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCmd_RegistersAllSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"init", "commit", "checkout", "diff", "search", "fts", "embed", "gc", "task", "serve", "version"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}

func TestNewRootCmd_UsesDocindexName(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "docindex", root.Use)
}
