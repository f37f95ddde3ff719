package config

import (
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcileConfig holds the operator tunables of the pay-from-file reconciliation.
// Column aliases are matched against normalized headers (no accents, lowercase, no separators).
type ReconcileConfig struct {
	Tolerance     float64  `mapstructure:"tolerance"`
	CNPJColumns   []string `mapstructure:"cnpjColumns"`
	NumberColumns []string `mapstructure:"numberColumns"`
	AmountColumns []string `mapstructure:"amountColumns"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Tolerance:     0.05,
		CNPJColumns:   []string{"cnpjfornecedor", "cnpj"},
		NumberColumns: []string{"nf", "numeronf", "numero"},
		AmountColumns: []string{"valorliquido", "valor"},
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// NewReconcileConfigHolder reads reconcile.yml (RECONCILE_CONFIG, /etc/billingops
// or the working directory) and keeps watching it. A missing file yields the defaults.
func NewReconcileConfigHolder(cfg Config, log *zap.Logger) (*ReconcileConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("reconcile.config")
	v := viper.New()

	if cfg.ReconcileConfigPath != "" {
		v.SetConfigFile(cfg.ReconcileConfigPath)
	} else {
		v.SetConfigName("reconcile")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/billingops")
		v.AddConfigPath(".")
	}

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.tolerance", defaults.Tolerance)
	v.SetDefault("reconcile.cnpjColumns", defaults.CNPJColumns)
	v.SetDefault("reconcile.numberColumns", defaults.NumberColumns)
	v.SetDefault("reconcile.amountColumns", defaults.AmountColumns)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var current ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &current); err != nil {
		return nil, err
	}
	current = normalizeReconcileConfig(current)
	if err := validateReconcileConfig(current); err != nil {
		return nil, err
	}

	holder := NewStaticReconcileConfigHolder(current)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		updated = normalizeReconcileConfig(updated)
		if err := validateReconcileConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", filepath.Base(e.Name)))
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	return h.current.Load().(ReconcileConfig)
}

func normalizeReconcileConfig(cfg ReconcileConfig) ReconcileConfig {
	cfg.CNPJColumns = lowerAll(cfg.CNPJColumns)
	cfg.NumberColumns = lowerAll(cfg.NumberColumns)
	cfg.AmountColumns = lowerAll(cfg.AmountColumns)
	return cfg
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.Tolerance < 0 {
		return errors.New("reconcile.tolerance cannot be negative")
	}
	if len(cfg.CNPJColumns) == 0 {
		return errors.New("reconcile.cnpjColumns cannot be empty")
	}
	if len(cfg.NumberColumns) == 0 {
		return errors.New("reconcile.numberColumns cannot be empty")
	}
	if len(cfg.AmountColumns) == 0 {
		return errors.New("reconcile.amountColumns cannot be empty")
	}
	return nil
}
