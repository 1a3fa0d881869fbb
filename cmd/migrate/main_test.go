package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/paylifecycle/pkg/migrate"
)

func TestRunCreateThenValidate(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), options{cmd: "create", dir: dir, name: "add retry index"}, &out))
	assert.Contains(t, out.String(), "_add_retry_index.sql")

	out.Reset()
	require.NoError(t, run(context.Background(), options{cmd: "validate", dir: dir}, &out))
	assert.Contains(t, out.String(), "passed")
}

func TestRunCreateRequiresName(t *testing.T) {
	err := run(context.Background(), options{cmd: "create", dir: t.TempDir()}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunValidateEmbedded(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), options{cmd: "validate", embedded: true, dir: "does-not-exist"}, &out))
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	applied := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, printStatus(&out, []migrate.Status{
		{Version: 20250301120000, Name: "20250301120000_create_payment_intents.sql", Applied: true, AppliedAt: applied},
		{Version: 20250301120500, Name: "20250301120500_create_outbox_events.sql"},
	}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "applied")
	assert.Contains(t, lines[1], "2025-03-01T12:00:00Z")
	assert.Contains(t, lines[2], "pending")
}
