package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func() int) (string, int) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	code := fn()
	os.Stdout = orig
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), code
}

func TestSealOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "authority.pem")
	pub := filepath.Join(dir, "authority.pub")
	report := filepath.Join(dir, "report.json")
	sealed := filepath.Join(dir, "sealed.json")
	packet := filepath.Join(dir, "packet.txt")

	require.Equal(t, 0, run([]string{"sealctl", "keygen", "--out-private", priv, "--out-public", pub}))
	require.NoError(t, os.WriteFile(report, []byte(`{"description":"followed near gate 4","severity":"high"}`), 0o644))

	require.Equal(t, 0, run([]string{"sealctl", "seal", "--pubkey", pub, "--in", report, "--out", sealed}))
	raw, err := os.ReadFile(sealed)
	require.NoError(t, err)
	var out sealOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, strings.HasPrefix(out.PayloadHash, "0x"))
	require.NoError(t, os.WriteFile(packet, []byte(out.Packet), 0o644))

	hash, code := captureStdout(t, func() int { return run([]string{"sealctl", "hash", "--in", packet}) })
	require.Equal(t, 0, code)
	assert.Equal(t, out.PayloadHash, strings.TrimSpace(hash))

	opened, code := captureStdout(t, func() int {
		return run([]string{"sealctl", "open", "--key", priv, "--in", packet, "--expect-hash", out.PayloadHash})
	})
	require.Equal(t, 0, code)
	assert.JSONEq(t, `{"description":"followed near gate 4","severity":"high"}`, strings.TrimSpace(opened))
}

func TestOpenRejectsWrongHash(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "authority.pem")
	pub := filepath.Join(dir, "authority.pub")
	report := filepath.Join(dir, "report.json")
	sealed := filepath.Join(dir, "sealed.json")
	packet := filepath.Join(dir, "packet.txt")

	require.Equal(t, 0, run([]string{"sealctl", "keygen", "--out-private", priv, "--out-public", pub}))
	require.NoError(t, os.WriteFile(report, []byte(`{"a":1}`), 0o644))
	require.Equal(t, 0, run([]string{"sealctl", "seal", "--pubkey", pub, "--in", report, "--out", sealed}))
	raw, err := os.ReadFile(sealed)
	require.NoError(t, err)
	var out sealOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NoError(t, os.WriteFile(packet, []byte(out.Packet), 0o644))

	assert.Equal(t, 1, run([]string{"sealctl", "open", "--key", priv, "--in", packet, "--expect-hash", "0x" + strings.Repeat("0", 64)}))
	assert.Equal(t, 1, run([]string{"sealctl", "open", "--key", priv, "--in", packet}), "open without an anchored hash")
}

func TestUsageErrors(t *testing.T) {
	assert.Equal(t, 1, run([]string{"sealctl"}))
	assert.Equal(t, 1, run([]string{"sealctl", "bogus"}))
	assert.Equal(t, 1, run([]string{"sealctl", "keygen"}))
	assert.Equal(t, 1, run([]string{"sealctl", "keygen", "--out-private", "a", "--out-public", "b", "--bits", "1024"}))
	assert.Equal(t, 1, run([]string{"sealctl", "seal"}))
	assert.Equal(t, 1, run([]string{"sealctl", "open"}))
}
