package model_test

import (
	"testing"

	"github.com/CZERTAINLY/Modulus/internal/model"
	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("MODULUS_SYSROOT", "/mnt/other")
	t.Setenv("MODULUS_SERVICE_LOG", "discard")
	t.Setenv("MODULUS_SERVICE_VERBOSE", "true")

	cfg := model.DefaultConfig(t.Context())
	model.ApplyEnv(&cfg)

	require.Equal(t, "/mnt/other", cfg.Sysroot)
	require.Equal(t, model.DefaultMountDir, cfg.MountDir)
	require.Equal(t, model.LogDiscard, cfg.Service.Log)
	require.True(t, cfg.Service.Verbose)
	require.Empty(t, cfg.Kickstart)
}
