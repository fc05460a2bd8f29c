package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flags.settingsPath, flags.catalogDir, flags.verbose = "", "", false
	flags.explainMode = "plan"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestOptimize(t *testing.T) {
	out, err := execute(t, "optimize", "--catalog", "testdata", "testdata/top_orders.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "projection=by_customer")
	assert.Contains(t, out, "key=(customer = 5)")
	assert.Contains(t, out, "projections: [by_customer]")
}

func TestOptimizeWithoutCatalog(t *testing.T) {
	out, err := execute(t, "optimize", "testdata/top_orders.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "JoinLazyColumns")
	assert.NotContains(t, out, "projection=")
}

func TestBudget(t *testing.T) {
	_, err := execute(t, "optimize", "--settings", "testdata/budget.toml", "testdata/top_orders.yaml")
	assert.ErrorContains(t, err, "BudgetExceededError")

	out, err := execute(t, "explain", "--settings", "testdata/budget.toml", "testdata/top_orders.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "partially optimized")

	_, err = execute(t, "explain", "--mode", "none", "testdata/top_orders.yaml")
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	out, err := execute(t, "settings", "--settings", "testdata/budget.toml")
	require.NoError(t, err)
	assert.Contains(t, out, "max-optimizations-to-apply = 1")
	assert.Contains(t, out, "[extra]")
}
