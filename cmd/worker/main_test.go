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
