package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

func TestViolationCountKeyUsesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2026, 3, 1, 21, 0, 0, 0, loc)
	assert.Equal(t, "risk:violations:2026-03-02", violationCountKey(ts))
}

func TestParseCountsSkipsGarbage(t *testing.T) {
	counts := parseCounts(map[string]string{
		"ORDER_QUANTITY": "3",
		"ORDER_NOTIONAL": "x",
	})
	assert.Equal(t, map[model.CheckKind]int64{model.CheckOrderQuantity: 3}, counts)
}

func TestFilterAuditEntries(t *testing.T) {
	mk := func(kind, strategy string) string {
		b, err := json.Marshal(model.AuditLog{ID: kind + strategy, Kind: kind, Strategy: strategy})
		require.NoError(t, err)
		return string(b)
	}
	items := []string{
		mk(model.AuditKindOrder, "alpha"),
		"not-json",
		mk(model.AuditKindViolation, "alpha"),
		mk(model.AuditKindOrder, "beta"),
	}

	got := filterAuditEntries(items, model.AuditFilter{Kind: model.AuditKindOrder}, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "beta", got[1].Strategy)

	got = filterAuditEntries(items, model.AuditFilter{Strategy: "alpha"}, 1)
	require.Len(t, got, 1)
	assert.Equal(t, model.AuditKindOrder, got[0].Kind)
}
