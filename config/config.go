// Package config loads and validates the daemon's TOML configuration.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/perifinance/peri-finance-sub001/native/fixed"
)

// Config is the daemon configuration. Amounts are decimal strings in whole
// units and are parsed into 18-decimal fixed point at load time.
type Config struct {
	DataDir       string `toml:"DataDir"`
	ListenAddress string `toml:"ListenAddress"`
	NetworkName   string `toml:"NetworkName"`
	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	Oracle Oracle   `toml:"Oracle"`
	Debt   Debt     `toml:"Debt"`
	Pynths []string `toml:"Pynths"`
	Loans  []Loan   `toml:"Loans"`
}

// Oracle configures the price feed poller.
type Oracle struct {
	Endpoint          string   `toml:"Endpoint"`
	Currencies        []string `toml:"Currencies"`
	PollSeconds       int      `toml:"PollSeconds"`
	RequestsPerMinute float64  `toml:"RequestsPerMinute"`
	Burst             int      `toml:"Burst"`
}

// Debt configures the periodic snapshot loop.
type Debt struct {
	SnapshotSeconds int `toml:"SnapshotSeconds"`
}

// Loan declares an ERC20-style collateral engine to assemble at startup.
type Loan struct {
	Token         string `toml:"Token"`
	MinCollateral string `toml:"MinCollateral"`
}

// MinCollateralAmount parses the declared minimum into fixed point.
func (l Loan) MinCollateralAmount() (*big.Int, error) {
	v, err := fixed.FromDecimal(strings.TrimSpace(l.MinCollateral))
	if err != nil {
		return nil, fmt.Errorf("config: loan %s: invalid MinCollateral %q", l.Token, l.MinCollateral)
	}
	return v, nil
}

// PollInterval returns the oracle poll cadence.
func (o Oracle) PollInterval() time.Duration {
	return time.Duration(o.PollSeconds) * time.Second
}

// SnapshotInterval returns the debt snapshot cadence.
func (d Debt) SnapshotInterval() time.Duration {
	return time.Duration(d.SnapshotSeconds) * time.Second
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalise fills unset fields with their defaults.
func (c *Config) Normalise() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./peri-data"
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "peri-local"
	}
	if c.Oracle.PollSeconds <= 0 {
		c.Oracle.PollSeconds = 30
	}
	if c.Oracle.RequestsPerMinute <= 0 {
		c.Oracle.RequestsPerMinute = 60
	}
	if c.Oracle.Burst <= 0 {
		c.Oracle.Burst = 5
	}
	if c.Debt.SnapshotSeconds <= 0 {
		c.Debt.SnapshotSeconds = 600
	}
	if c.Pynths == nil {
		c.Pynths = []string{}
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Oracle.Endpoint) == "" && len(c.Oracle.Currencies) > 0 {
		return fmt.Errorf("oracle: currencies configured without an endpoint")
	}
	for _, key := range c.Pynths {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("pynths: empty currency key")
		}
	}
	for _, loan := range c.Loans {
		if strings.TrimSpace(loan.Token) == "" {
			return fmt.Errorf("loans: empty collateral token")
		}
		if _, err := loan.MinCollateralAmount(); err != nil {
			return err
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       "./peri-data",
		ListenAddress: ":8080",
		NetworkName:   "peri-local",
		Pynths:        []string{"pETH", "pBTC"},
		Oracle: Oracle{
			Currencies:        []string{"PERI", "pETH", "pBTC"},
			PollSeconds:       30,
			RequestsPerMinute: 60,
			Burst:             5,
		},
		Debt: Debt{SnapshotSeconds: 600},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
