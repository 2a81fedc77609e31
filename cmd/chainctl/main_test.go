package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/scholarchain/internal/events"
	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"github.com/jmerrifield20/scholarchain/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seededChain(t *testing.T, count int) (*ledger.Chain, ledger.Store, *seedResult) {
	t.Helper()
	store := ledger.NewMemoryStore()
	chain := ledger.NewChain(store, nil, zap.NewNop())
	res, err := seedDemo(context.Background(), events.NewRecorder(chain, zap.NewNop()), count, time.Now().UTC())
	require.NoError(t, err)
	return chain, store, res
}

func TestSeedDemo_recordsWholeWorkflow(t *testing.T) {
	chain, _, res := seededChain(t, 2)

	// 3 roles + 2 staff, then 7 blocks per presentation.
	assert.Equal(t, 3+2+7*2, res.blocks)

	stats, err := chain.Statistics(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, res.blocks, stats.TotalBlocks)

	counts := map[ledger.RecordType]int{}
	for _, tc := range stats.ByType {
		counts[tc.Type] = tc.Count
	}
	assert.Equal(t, 3, counts[ledger.RecordRoleCreation])
	assert.Equal(t, 4, counts[ledger.RecordUserCreation])
	assert.Equal(t, 2, counts[ledger.RecordPresentationSubmission])
	assert.Equal(t, 4, counts[ledger.RecordPresentationScheduled])
	assert.Equal(t, 4, counts[ledger.RecordAssessmentSubmitted])
	assert.Equal(t, 2, counts[ledger.RecordNotificationSent])

	var out bytes.Buffer
	require.NoError(t, res.print(&out))
	assert.Contains(t, out.String(), "Appended 19 blocks")
	assert.Contains(t, out.String(), "Thesis defence 2")
}

func TestRunVerify_valid(t *testing.T) {
	chain, _, _ := seededChain(t, 1)

	var out bytes.Buffer
	require.NoError(t, runVerify(context.Background(), chain, &out, false))
	assert.True(t, strings.HasPrefix(out.String(), "Blockchain integrity verified successfully (12 blocks, tip "))
}

func TestRunVerify_brokenReturnsExitError(t *testing.T) {
	_, store, _ := seededChain(t, 1)

	// Re-reading the chain with another hash function fails every digest.
	sha3, err := ledger.NewHasher(ledger.AlgorithmSHA3256)
	require.NoError(t, err)
	wrong := ledger.NewChain(store, sha3, zap.NewNop())

	var out bytes.Buffer
	err = runVerify(context.Background(), wrong, &out, false)
	assert.True(t, errors.Is(err, errChainBroken))
	assert.Contains(t, out.String(), "Blockchain integrity check failed: 12 finding(s) in 12 blocks")
	assert.Contains(t, out.String(), "Block #1: Hash verification failed")
}

func TestRunVerify_json(t *testing.T) {
	chain, _, _ := seededChain(t, 1)

	var out bytes.Buffer
	require.NoError(t, runVerify(context.Background(), chain, &out, true))

	var report ledger.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 12, report.Blocks)
	assert.Empty(t, report.Findings)
}

func TestRunStats(t *testing.T) {
	chain, _, _ := seededChain(t, 1)

	var out bytes.Buffer
	require.NoError(t, runStats(context.Background(), chain, &out, 3))
	s := out.String()
	assert.Contains(t, s, "Total blocks: 12")
	assert.Contains(t, s, "#12")
	assert.NotContains(t, s, "#9 ")
}

func TestRunTrail(t *testing.T) {
	_, store, res := seededChain(t, 1)

	var pid string
	for _, e := range res.entities {
		if e.model == events.ModelPresentation {
			pid = e.id
		}
	}
	require.NotEmpty(t, pid)

	var out bytes.Buffer
	ref := ledger.EntityRef{Type: events.ModelPresentation, ID: pid}
	require.NoError(t, runTrail(context.Background(), ledger.NewAuditor(store), &out, ref, nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	// header + submission + scheduled update
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[1], "presentation_submission")
	assert.Contains(t, lines[1], "student1")

	out.Reset()
	ref.ID = "missing"
	require.NoError(t, runTrail(context.Background(), ledger.NewAuditor(store), &out, ref, nil))
	assert.Equal(t, "No ledger records for PresentationRequest#missing\n", out.String())
}

func TestRunRemoteVerify_broken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ledger/verify", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"is_valid":     false,
			"total_blocks": 4,
			"errors":       []string{"Block #2: Hash verification failed"},
			"message":      "Blockchain integrity check failed",
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runRemoteVerify(context.Background(), client.MustNew(srv.URL), &out, false)
	assert.True(t, errors.Is(err, errChainBroken))
	assert.Equal(t, "Blockchain integrity check failed (4 blocks)\n  Block #2: Hash verification failed\n", out.String())
}

func TestTamperSupported(t *testing.T) {
	assert.NoError(t, tamperSupported("postgres"))
	for _, backend := range []string{"memory", "badger", ""} {
		assert.Error(t, tamperSupported(backend), backend)
	}
}
