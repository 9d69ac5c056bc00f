package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddress)
	require.Equal(t, "peri-local", cfg.NetworkName)

	_, err = os.Stat(path)
	require.NoError(t, err, "default file must be written")

	// Loading the written default again must round-trip.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Oracle.PollSeconds, again.Oracle.PollSeconds)
}

func TestNormaliseAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
DataDir = "/tmp/peri"
Pynths = ["pETH"]

[Oracle]
Endpoint = "http://localhost:9999/rates"
Currencies = ["PERI", "pETH"]

[[Loans]]
Token = "USDC"
MinCollateral = "100.5"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.Oracle.PollSeconds, "unset poll interval must normalise")
	require.Equal(t, 600, cfg.Debt.SnapshotSeconds, "unset snapshot interval must normalise")

	min, err := cfg.Loans[0].MinCollateralAmount()
	require.NoError(t, err)
	want, _ := fixed.FromDecimal("100.5")
	require.Zero(t, min.Cmp(want), "expected 100.5 in fixed point, got %s", fixed.Format(min))
}

func TestValidateRejectsBadLoan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[[Loans]]
Token = "USDC"
MinCollateral = "not-a-number"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	_, err := Load(path)
	require.Error(t, err, "invalid amount must fail validation")
}

func TestValidateRejectsOracleWithoutEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	raw := `
[Oracle]
Currencies = ["pETH"]
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	_, err := Load(path)
	require.Error(t, err, "currencies without endpoint must fail")
}
