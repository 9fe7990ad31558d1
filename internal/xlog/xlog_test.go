// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package xlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelsFiltered(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LvlInfo)

	log.Debug("hidden")
	log.Info("shown", "key", "value")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown")
	require.Contains(t, out, "key=value")
}

func TestChildContextCarried(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LvlDebug).New("vm", "1")

	log.Debug("tick", "op", "Call")

	out := buf.String()
	require.Contains(t, out, "vm=1")
	require.Contains(t, out, "op=Call")
}

func TestOddContextFlagged(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LvlDebug)

	log.Info("oops", "dangling")
	require.Contains(t, buf.String(), "MISSING_VALUE=dangling")
}

func TestCallerRecorded(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LvlDebug)

	log.Info("where")
	require.True(t, strings.Contains(buf.String(), "xlog_test.go"), "record should carry the caller position: %q", buf.String())
}
