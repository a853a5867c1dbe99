// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/adventure"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/audit"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/storage/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swiftvector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestScenario_Memory(t *testing.T) {
	out, err := execute(t, "scenario")
	require.NoError(t, err)

	assert.Contains(t, out, "findGold(50)")
	assert.Contains(t, out, "moveTo(\"cave\")")
	assert.Contains(t, out, "OK: chain valid, 5 entries")
	assert.Contains(t, out, "health:     0")
	assert.Contains(t, out, "gold:       50")
	assert.Contains(t, out, "fixed random draws [2 0 1]")
	assert.Equal(t, 2, strings.Count(out, "\tapplied\t"), "findGold(50) and takeDamage(120)")
	assert.Equal(t, 2, strings.Count(out, "\trejected\t"), "findGold(150) and moveTo after game over")
}

func TestScenario_SQLiteThenInspect(t *testing.T) {
	db := filepath.Join(t.TempDir(), "audit.db")
	base := []string{"--backend", "sqlite", "--path", db, "--session", "forest"}

	_, err := execute(t, append(base, "scenario")...)
	require.NoError(t, err)

	out, err := execute(t, append(base, "verify")...)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: chain valid: 5 entries")
	assert.Contains(t, out, "fold reproduces 5 state hashes (2 applied, 2 not applied)")

	out, err = execute(t, append(base, "replay")...)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: replayed 4 actions")

	out, err = execute(t, append(base, "log", "--json")...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	var last audit.Entry[adventure.Action]
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &last))
	assert.False(t, last.Applied)
	assert.Equal(t, adventure.ActionMoveTo, last.Action.Type)

	out, err = execute(t, append(base, "log", "--kind", "initialization")...)
	require.NoError(t, err)
	assert.Equal(t, 1, len(strings.Split(strings.TrimSpace(out), "\n")))
}

func TestVerify_DetectsTamper(t *testing.T) {
	db := filepath.Join(t.TempDir(), "audit.db")
	base := []string{"--backend", "sqlite", "--path", db, "--session", "t"}
	_, err := execute(t, append(base, "scenario")...)
	require.NoError(t, err)

	// Rewrite entry 1 with a forged rationale but keep its old seal.
	store, err := sqlite.Open[adventure.Action](db, "t", nil)
	require.NoError(t, err)
	entries, err := store.Load(context.Background())
	require.NoError(t, err)
	entries[1].Rationale = "forged"
	require.NoError(t, store.Rewrite(context.Background(), entries))
	require.NoError(t, store.Close())

	out, err := execute(t, append(base, "verify")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrIntegrity)
	assert.Equal(t, ExitCheckFailed, exitCode(err))
	assert.Contains(t, out, "ERROR:")
}

func TestStoredCommandsNeedPersistentBackend(t *testing.T) {
	for _, name := range []string{"verify", "replay", "log"} {
		_, err := execute(t, name)
		require.ErrorIs(t, err, ErrNoPersistentStore, name)
		assert.Equal(t, ExitError, exitCode(err))
	}
}

func TestSimulate_PersistResumeVerify(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	cfg := writeConfig(t, `
storage:
  backend: badger
  path: `+dir+`
  gc_interval: 0s
simulation:
  rate_per_second: 0
`)
	base := []string{"--config", cfg, "--session", "sim"}

	out, err := execute(t, append(base, "simulate", "--agents", "3", "--steps", "5")...)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: chain valid")

	out, err = execute(t, append(base, "simulate", "--agents", "2", "--steps", "3", "--resume")...)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: chain valid")

	out, err = execute(t, append(base, "verify")...)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: chain valid")

	out, err = execute(t, append(base, "log", "--kind", "state_restored")...)
	require.NoError(t, err)
	assert.Contains(t, out, "state_restored")
}

func TestSimulate_DeterministicIsReproducible(t *testing.T) {
	cfg := writeConfig(t, `
simulation:
  deterministic: true
  rate_per_second: 0
`)
	head := regexp.MustCompile(`head ([0-9a-f]+)`)

	var heads []string
	for range 2 {
		out, err := execute(t, "--config", cfg, "simulate", "--agents", "1", "--steps", "15", "--seed", "9")
		require.NoError(t, err)
		m := head.FindStringSubmatch(out)
		require.Len(t, m, 2, out)
		heads = append(heads, m[1])
	}
	assert.Equal(t, heads[0], heads[1])
}

func TestSimulate_DeterministicResumeKeepsIDsUnique(t *testing.T) {
	db := filepath.Join(t.TempDir(), "audit.db")
	cfg := writeConfig(t, `
storage:
  backend: sqlite
  path: `+db+`
simulation:
  deterministic: true
  rate_per_second: 0
`)
	base := []string{"--config", cfg, "--session", "det"}

	_, err := execute(t, append(base, "simulate", "--agents", "1", "--steps", "4", "--seed", "3")...)
	require.NoError(t, err)
	_, err = execute(t, append(base, "simulate", "--agents", "1", "--steps", "4", "--seed", "3", "--resume")...)
	require.NoError(t, err)

	out, err := execute(t, append(base, "log", "--json")...)
	require.NoError(t, err)
	seen := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var e audit.Entry[adventure.Action]
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		assert.False(t, seen[e.ID], "id %s repeats at seq %d", e.ID, e.Seq)
		seen[e.ID] = true
	}
	assert.Greater(t, len(seen), 2)
}

func TestSimulate_GovernanceEnabled(t *testing.T) {
	cfg := writeConfig(t, `
governance:
  enabled: true
simulation:
  rate_per_second: 0
`)
	out, err := execute(t, "--config", cfg, "simulate", "--agents", "2", "--steps", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: chain valid")
}

func TestPolicyCommands(t *testing.T) {
	out, err := execute(t, "policy", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "WARN: governance is disabled")
	assert.Contains(t, out, "quarantine-untrusted-agents")
	assert.Less(t, strings.Index(out, "quarantine-untrusted-agents"), strings.Index(out, "no-looting-in-village"))

	out, err = execute(t, "policy", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "source: embedded")
	assert.Regexp(t, `sha256: [0-9a-f]{64}`, out)

	bad := writeConfig(t, "rules:\n  - id: x\n    effect: maybe\n")
	policyCfg := writeConfig(t, "governance:\n  policy_path: "+bad+"\n")
	_, err = execute(t, "--config", policyCfg, "policy", "verify")
	require.Error(t, err)
	assert.Equal(t, ExitCheckFailed, exitCode(err))
}

func TestInvalidFlags(t *testing.T) {
	_, err := execute(t, "--backend", "redis", "scenario")
	require.Error(t, err)
	assert.Equal(t, ExitError, exitCode(err))

	_, err = execute(t, "--log-level", "chatty", "scenario")
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, exitCode(nil))
	assert.Equal(t, ExitError, exitCode(errors.New("x")))
	assert.Equal(t, ExitCheckFailed, exitCode(checkFailed(errors.New("x"))))
	assert.Nil(t, checkFailed(nil))
}
