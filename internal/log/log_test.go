package log

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormat_FieldsAndOrphanKey(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	line := format(now, LevelWarn, CatRegistry, "executor missing", []any{"name", "UPPER", "orphan"})
	require.Equal(t, "2026-01-02T15:04:05 [WARN] [registry] executor missing name=UPPER orphan=<missing>\n", line)
}

func TestWriter_RespectsLevelAndToggle(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	t.Cleanup(func() { defaultLogger = nil })

	SetMinLevel(LevelInfo)
	Debug(CatExec, "hidden")
	Info(CatExec, "shown", "rows", 3)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "[INFO] [exec] shown rows=3")

	SetEnabled(false)
	Error(CatExec, "muted")
	require.NotContains(t, buf.String(), "muted")

	SetEnabled(true)
	ErrorErr(CatStore, "write failed", errors.New("disk full"))
	require.Contains(t, buf.String(), "error=disk full")
}

func TestSubscribe_ReceivesEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	t.Cleanup(func() { defaultLogger = nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Subscribe(ctx)
	require.NotNil(t, ch)

	Info(CatAPI, "request", "path", "/health")

	select {
	case ev := <-ch:
		require.Contains(t, ev.Payload, "path=/health")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for log event")
	}
}
