package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agora-forum/agora/internal/app"
	_ "github.com/agora-forum/agora/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}

func TestRunCommandUsage(t *testing.T) {
	cfg := &app.Config{}
	assert.Equal(t, 2, runCommand(t.Context(), cfg, nil, []string{"unknown"}))
	assert.Equal(t, 2, runCommand(t.Context(), cfg, nil, []string{"jobs"}))
}
