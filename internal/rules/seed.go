package rules

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/louissader/homelab-infrastructure-monitor/internal/config"
	"github.com/louissader/homelab-infrastructure-monitor/internal/store"
	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// DefaultRules is the built-in starter set installed on first boot: CPU and
// memory pressure at warning and critical levels, five minute cooldown.
func DefaultRules() []models.AlertRule {
	mk := func(name, metric string, threshold float64, severity models.Severity) models.AlertRule {
		return models.AlertRule{
			ID:              models.GenerateID("rule"),
			Name:            name,
			Metric:          metric,
			Operator:        models.OpGreater,
			Threshold:       threshold,
			Severity:        severity,
			Enabled:         true,
			CooldownSeconds: 300,
		}
	}
	return []models.AlertRule{
		mk("cpu usage high", "cpu.percent", 90, models.SeverityWarning),
		mk("cpu usage critical", "cpu.percent", 95, models.SeverityCritical),
		mk("memory usage high", "memory.percent", 85, models.SeverityWarning),
		mk("memory usage critical", "memory.percent", 95, models.SeverityCritical),
	}
}

// seedFile is the YAML shape of a rule seed file:
//
//	rules:
//	  - name: cpu high
//	    metric: cpu.percent
//	    operator: ">"
//	    threshold: 90
//	    severity: warning
//	    cooldown_seconds: 300
type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	EntityID        string   `yaml:"entity_id"`
	Metric          string   `yaml:"metric"`
	Operator        string   `yaml:"operator"`
	Threshold       float64  `yaml:"threshold"`
	Severity        string   `yaml:"severity"`
	CooldownSeconds int      `yaml:"cooldown_seconds"`
	Channels        []string `yaml:"channels"`
	Enabled         *bool    `yaml:"enabled"`
}

func (r seedRule) toRule() (models.AlertRule, error) {
	if r.Name == "" {
		return models.AlertRule{}, fmt.Errorf("rule without a name")
	}
	if !KnownMetric(r.Metric) {
		return models.AlertRule{}, fmt.Errorf("rule %q: unknown metric %q", r.Name, r.Metric)
	}
	if !models.ValidOperator(models.Operator(r.Operator)) {
		return models.AlertRule{}, fmt.Errorf("rule %q: unknown operator %q", r.Name, r.Operator)
	}
	if !models.ValidSeverity(models.Severity(r.Severity)) {
		return models.AlertRule{}, fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
	}
	if r.CooldownSeconds < 0 {
		return models.AlertRule{}, fmt.Errorf("rule %q: negative cooldown", r.Name)
	}
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return models.AlertRule{
		ID:              models.GenerateID("rule"),
		Name:            r.Name,
		Description:     r.Description,
		EntityID:        r.EntityID,
		Metric:          r.Metric,
		Operator:        models.Operator(r.Operator),
		Threshold:       r.Threshold,
		Severity:        models.Severity(r.Severity),
		Enabled:         enabled,
		CooldownSeconds: r.CooldownSeconds,
		Channels:        r.Channels,
	}, nil
}

// Seed installs starter rules when the rule store is empty. A configured
// seed file replaces the built-in set; an already-populated store is left
// untouched so operator edits survive restarts.
func Seed(ctx context.Context, rules store.RuleStore, cfg config.RulesConfig, logger *zap.Logger) error {
	if !cfg.SeedDefaults && cfg.SeedFile == "" {
		return nil
	}

	count, err := rules.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting rules: %w", err)
	}
	if count > 0 {
		logger.Debug("rule store already populated, skipping seed", zap.Int64("rules", count))
		return nil
	}

	var toCreate []models.AlertRule
	switch {
	case cfg.SeedFile != "":
		toCreate, err = loadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
	case cfg.SeedDefaults:
		toCreate = DefaultRules()
	}

	for i := range toCreate {
		if err := rules.Create(ctx, &toCreate[i]); err != nil {
			return fmt.Errorf("seeding rule %q: %w", toCreate[i].Name, err)
		}
	}
	logger.Info("seeded alert rules",
		zap.Int("rules", len(toCreate)),
		zap.String("source", seedSource(cfg)))
	return nil
}

func seedSource(cfg config.RulesConfig) string {
	if cfg.SeedFile != "" {
		return cfg.SeedFile
	}
	return "defaults"
}

func loadSeedFile(path string) ([]models.AlertRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	out := make([]models.AlertRule, 0, len(file.Rules))
	for _, entry := range file.Rules {
		rule, err := entry.toRule()
		if err != nil {
			return nil, fmt.Errorf("seed file %s: %w", path, err)
		}
		out = append(out, rule)
	}
	return out, nil
}
