package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
)

func TestSeedDefaultsOnce(t *testing.T) {
	rs := store.NewMemoryRuleStore()
	ctx := context.Background()
	cfg := config.RulesConfig{SeedDefaults: true}

	require.NoError(t, Seed(ctx, rs, cfg, zap.NewNop()))
	count, err := rs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	// A restart must not duplicate the set.
	require.NoError(t, Seed(ctx, rs, cfg, zap.NewNop()))
	count, err = rs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	rules, _, err := rs.List(ctx, store.RuleFilter{})
	require.NoError(t, err)
	for _, rule := range rules {
		assert.True(t, rule.Enabled)
		assert.Equal(t, 300, rule.CooldownSeconds)
		assert.True(t, KnownMetric(rule.Metric), "default rule %q targets unknown metric", rule.Name)
	}
}

func TestSeedFileReplacesDefaults(t *testing.T) {
	rs := store.NewMemoryRuleStore()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - name: root disk full
    metric: disk.percent
    operator: ">="
    threshold: 95
    severity: critical
    cooldown_seconds: 600
  - name: dns check failing
    metric: services.unhealthy
    operator: ">"
    threshold: 0
    severity: warning
    entity_id: "host:dns"
    enabled: false
`), 0o600))

	cfg := config.RulesConfig{SeedDefaults: true, SeedFile: path}
	require.NoError(t, Seed(ctx, rs, cfg, zap.NewNop()))

	rules, total, err := rs.List(ctx, store.RuleFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total, "seed file replaces the built-in set")
	require.Len(t, rules, 2)

	byName := map[string]int{}
	for i, rule := range rules {
		byName[rule.Name] = i
	}
	disk := rules[byName["root disk full"]]
	assert.Equal(t, 95.0, disk.Threshold)
	assert.Equal(t, 600, disk.CooldownSeconds)
	assert.True(t, disk.Enabled, "enabled defaults to true")

	dns := rules[byName["dns check failing"]]
	assert.Equal(t, "host:dns", dns.EntityID)
	assert.False(t, dns.Enabled)
}

func TestSeedFileRejectsBadEntries(t *testing.T) {
	rs := store.NewMemoryRuleStore()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - name: typo rule
    metric: cpu.persent
    operator: ">"
    threshold: 90
    severity: warning
`), 0o600))

	err := Seed(ctx, rs, config.RulesConfig{SeedFile: path}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown metric")

	count, err := rs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "nothing is seeded from a bad file")
}

func TestSeedDisabled(t *testing.T) {
	rs := store.NewMemoryRuleStore()
	require.NoError(t, Seed(context.Background(), rs, config.RulesConfig{}, zap.NewNop()))
	count, err := rs.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
