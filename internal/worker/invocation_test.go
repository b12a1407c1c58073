package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifedash/receiptsd/internal/config"
)

func TestBuildInvocationArgShapes(t *testing.T) {
	cfg := &config.Config{WorkerRunCmd: "/usr/local/bin/run-worker", WorkerDir: "/work"}

	cases := []struct {
		name   string
		stores []string
		want   []string
	}{
		{"empty selection", nil, []string{"--all"}},
		{"single store", []string{"lidl"}, []string{"--store", "lidl"}},
		{"two stores", []string{"lidl", "kaufland"}, []string{"--stores", "lidl,kaufland"}},
		{"order preserved", []string{"zeta", "alpha", "mid"}, []string{"--stores", "zeta,alpha,mid"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv, err := BuildInvocation(cfg, tc.stores)
			require.NoError(t, err)
			assert.Equal(t, "/usr/local/bin/run-worker", inv.Path)
			assert.Equal(t, tc.want, inv.Args)
			assert.Equal(t, "/work", inv.Dir)
			assert.Equal(t, tc.stores, inv.Stores)
		})
	}
}

func TestBuildInvocationNoCommand(t *testing.T) {
	cfg := &config.Config{}
	_, err := BuildInvocation(cfg, nil)
	require.ErrorIs(t, err, ErrNoWorkerCommand)
}

func TestBuildInvocationVenvFallback(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{WorkerDir: dir}

	// No venv: falls back to the system interpreter.
	inv, err := BuildInvocation(cfg, []string{"lidl"})
	require.NoError(t, err)
	assert.Equal(t, "python3", inv.Path)
	assert.Equal(t, []string{"-m", "src.runner", "--store", "lidl"}, inv.Args)

	// With a venv interpreter present, it is preferred.
	python := filepath.Join(dir, ".venv", "bin", "python")
	require.NoError(t, os.MkdirAll(filepath.Dir(python), 0o750))
	require.NoError(t, os.WriteFile(python, []byte("#!/bin/sh\n"), 0o750))
	inv, err = BuildInvocation(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, python, inv.Path)
	assert.Equal(t, []string{"-m", "src.runner", "--all"}, inv.Args)
}

func TestBuildInvocationRunCmdWins(t *testing.T) {
	cfg := &config.Config{WorkerRunCmd: "/opt/worker", WorkerDir: t.TempDir()}
	inv, err := BuildInvocation(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "/opt/worker", inv.Path)
	assert.Equal(t, []string{"--all"}, inv.Args)
}
