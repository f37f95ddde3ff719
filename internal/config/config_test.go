package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DAC_ENRICH_CONCURRENCY", "")
	t.Setenv("DEFAULT_CANCEL_REASON", "")
	t.Setenv("INVOICE_UPSERT_MODE", "")
	t.Setenv("BATCH_INTERVAL", "")

	cfg := Load()
	assert.Equal(t, 4, cfg.EnrichConcurrency)
	assert.Equal(t, DefaultCancelReason, cfg.DefaultCancelReason)
	assert.Equal(t, UpsertModeOverwrite, cfg.UpsertMode)
	assert.Equal(t, 1100*time.Millisecond, cfg.Batch.Interval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DAC_ENRICH_CONCURRENCY", "8")
	t.Setenv("INVOICE_UPSERT_MODE", "COALESCE")
	t.Setenv("BATCH_INTERVAL", "250")
	t.Setenv("SYNC_INTERVAL", "2m")

	cfg := Load()
	assert.Equal(t, 8, cfg.EnrichConcurrency)
	assert.Equal(t, UpsertModeCoalesce, cfg.UpsertMode)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
}

func TestValidateRequiresSiimp(t *testing.T) {
	cfg := Config{DBType: "sqlite"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSiimpBaseURL)
	assert.ErrorIs(t, err, ErrMissingSiimpAPIKey)

	cfg.Siimp = SiimpConfig{BaseURL: "http://siimp", APIKey: "k"}
	assert.NoError(t, cfg.Validate())
}

func TestReconcileConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reconcile.yml")
	content := "reconcile:\n  tolerance: 0.10\n  cnpjColumns: [CNPJ]\n  numberColumns: [nota]\n  amountColumns: [total]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := NewReconcileConfigHolder(Config{ReconcileConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	got := holder.Get()
	assert.InDelta(t, 0.10, got.Tolerance, 1e-9)
	assert.Equal(t, []string{"cnpj"}, got.CNPJColumns)
	assert.Equal(t, []string{"nota"}, got.NumberColumns)
	assert.Equal(t, []string{"total"}, got.AmountColumns)
}

func TestReconcileConfigHolderDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewReconcileConfigHolder(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultReconcileConfig(), holder.Get())
}
