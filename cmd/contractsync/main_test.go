package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/execution-hub/contractsync/internal/api/http"
)

func TestTokenCommandIssuesParsableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("JWT_ISSUER", "contractsync")
	t.Setenv("STORE_DRIVER", "memory")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "alice", "--ttl", "1h"})
	require.NoError(t, cmd.Execute())

	owner, err := httpapi.NewAuthenticator("cli-secret", "contractsync", false).ParseToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"migrate", "sideways"})
	assert.Error(t, cmd.Execute())
}
