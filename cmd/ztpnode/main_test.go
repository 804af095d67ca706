package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/ztp-quorum/common"
	"github.com/luca-patrignani/ztp-quorum/consensus"
	"github.com/luca-patrignani/ztp-quorum/fragment"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

func TestMain(m *testing.M) {
	pterm.DisableOutput()
	os.Exit(m.Run())
}

func run(args ...string) error {
	root := newRootCmd()
	root.SetArgs(append([]string{"-q"}, args...))
	return root.Execute()
}

// every node has degree 3, so the leaders converge on the first check
var stable = []string{"--seed", "3", "--nodes", "10", "--min-degree", "3", "--max-degree", "3", "--threshold", "0"}

func TestSimulate(t *testing.T) {
	require.NoError(t, run(append([]string{"simulate", "--metrics"}, stable...)...))
}

func TestSimulatePebbleOnDisk(t *testing.T) {
	dir := t.TempDir()
	args := append([]string{"simulate", "--storage", "pebble", "--storage-dir", dir, "--seekers", "5"}, stable...)
	require.NoError(t, run(args...))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
}

func TestSimulateFromFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "record.txt")
	require.NoError(t, os.WriteFile(file, []byte("blood type 0-"), 0o600))
	require.NoError(t, run(append([]string{"simulate", "--file", file, "--chunk-size", "4"}, stable...)...))
}

func TestElect(t *testing.T) {
	require.NoError(t, run(append([]string{"elect"}, stable...)...))
}

func TestElectRejectsBadRatio(t *testing.T) {
	err := run("elect", "--ratio", "1.5")
	require.True(t, common.IsConfigError(err), "%v", err)
}

func TestElectNoQualifyingLeaders(t *testing.T) {
	err := run("elect", "--threshold", "1000", "--attempts", "2")
	require.ErrorIs(t, err, common.ErrNoQualifyingLeaders)
}

func TestDecisionBox(t *testing.T) {
	res := &consensus.Result{
		Seeker:     "5",
		Block:      "b",
		Outcome:    consensus.OutcomeGranted,
		Rounds:     2,
		Quorum:     5,
		Validators: []registry.NodeID{1, 4, 6, 7, 9},
		Delivery:   &fragment.Delivery{Key: make([]byte, 32), Data: []byte("abc")},
	}
	box := decisionBox(res)
	assert.Contains(t, box, "GRANTED")
	assert.Contains(t, box, "1 4 6 7 9")
	assert.Contains(t, box, "received 3 bytes")

	res.Outcome, res.Delivery = consensus.OutcomeDenied, nil
	assert.Contains(t, decisionBox(res), "DENIED")
	res.Outcome = consensus.OutcomeFailed
	assert.Contains(t, decisionBox(res), "FAILED")
}

func TestSeekersTrimsEmpty(t *testing.T) {
	assert.Equal(t, []registry.SeekerID{"5", "9"}, seekers([]string{" 5", "", "9 "}))
}

func TestHoldingRows(t *testing.T) {
	reg, err := registry.New(3)
	require.NoError(t, err)
	placement := ledger.NewPlacement()
	placement.Record("b/k/0000-aa", []registry.NodeID{0, 1})
	placement.Record("b/d/0000-bb", []registry.NodeID{1})
	placement.Record("b/d/0001-cc", []registry.NodeID{1})

	rows := holdingRows(reg, placement)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"0", "1", "0"}, rows[1])
	assert.Equal(t, []string{"1", "1", "2"}, rows[2])
}

func TestProgressWithoutTerminal(t *testing.T) {
	defer func(q bool) { quiet = q }(quiet)
	quiet = true
	p := startProgress("Electing leaders...")
	assert.Nil(t, p.spinner)
	p.update("attempt 1 failed")
	p.success("done")
	p.fail("failed")
}
