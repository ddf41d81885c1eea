package anchor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_BindsHashToText(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New("migrate the billing service to the new ledger", now)
	assert.NotEmpty(t, a.SHA256)
	assert.Equal(t, now, a.CreatedAt)
}

func TestCheckDrift_IdenticalTextNoDrift(t *testing.T) {
	a := New("migrate the billing service to the new ledger", time.Now())
	_, drifted := a.CheckDrift("migrate the billing service to the new ledger", 0)
	assert.False(t, drifted)
}

func TestCheckDrift_UnrelatedTextDrifts(t *testing.T) {
	a := New("migrate the billing service to the new ledger", time.Now())
	warn, drifted := a.CheckDrift("write a poem about autumn leaves", 0)
	assert.True(t, drifted)
	assert.Less(t, warn.Overlap, DefaultDriftThreshold)
}

func TestCheckDrift_PartialOverlapRespectsThreshold(t *testing.T) {
	a := New("migrate the billing service to the new ledger", time.Now())
	// Shares several tokens but not all; a generous threshold should pass.
	_, drifted := a.CheckDrift("migrate the billing service configuration", 0.1)
	assert.False(t, drifted)

	// A strict threshold on the same candidate should flag it.
	_, drifted = a.CheckDrift("migrate the billing service configuration", 0.95)
	assert.True(t, drifted)
}
