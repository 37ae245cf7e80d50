package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SyncBoard/internal/command"
)

func TestBoardURL(t *testing.T) {
	cases := map[string]string{
		"syncboard://192.168.1.20:8080/main":  "ws://192.168.1.20:8080/ws/main",
		"syncboard://192.168.1.20:8080/main/": "ws://192.168.1.20:8080/ws/main",
		"localhost:8080/design":               "ws://localhost:8080/ws/design",
		"ws://host:1/ws/main":                 "ws://host:1/ws/main",
		"wss://host/ws/main":                  "wss://host/ws/main",
	}
	for in, want := range cases {
		got, err := boardURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "syncboard://host:8080", "host:8080/a/b", "/main"} {
		_, err := boardURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestBoardName(t *testing.T) {
	assert.Equal(t, "main", boardName("ws://host:8080/ws/main"))
}

func TestFailedOps(t *testing.T) {
	errs := []error{
		&command.OpError{Index: 1, Op: "move", Err: command.ErrNoMatch},
		fmt.Errorf("create x: %w", errors.New("backend down")),
		&command.OpError{Index: 3, Op: "grid", Err: command.ErrNoMatch},
	}
	assert.Equal(t, 2, failedOps(errs))
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"hub", "discover", "export", "apply"})
}
