// Package config loads the maid-deploy TOML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
)

// ErrConfigValidation wraps validation failures, as opposed to syntax or
// filesystem errors.
var ErrConfigValidation = errors.New("config validation failed")

const (
	DefaultDeploymentsDir = "deployments"
	DefaultArtifactsDir   = "artifacts"
	DefaultTimeoutSeconds = 600
	DefaultGasFeeCap      = 2_000_000_000
	DefaultGasTipCap      = 1_000_000_000
	DefaultGasHeadroom    = 20
)

type Config struct {
	Network        string            `toml:"network"`
	RPCURL         string            `toml:"rpc_url"`
	ChainID        int64             `toml:"chain_id"`
	MultiSigWallet string            `toml:"multisig_wallet"`
	DeploymentsDir string            `toml:"deployments_dir"`
	ArtifactsDir   string            `toml:"artifacts_dir"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	Gas            Gas               `toml:"gas"`
	NamedAccounts  map[string]string `toml:"named_accounts"`
}

type Gas struct {
	FeeCapWei            int64  `toml:"fee_cap_wei"`
	TipCapWei            int64  `toml:"tip_cap_wei"`
	LimitHeadroomPercent uint64 `toml:"limit_headroom_percent"`
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	return &Config{
		DeploymentsDir: DefaultDeploymentsDir,
		ArtifactsDir:   DefaultArtifactsDir,
		TimeoutSeconds: DefaultTimeoutSeconds,
		Gas: Gas{
			FeeCapWei:            DefaultGasFeeCap,
			TipCapWei:            DefaultGasTipCap,
			LimitHeadroomPercent: DefaultGasHeadroom,
		},
		NamedAccounts: map[string]string{},
	}
}

// Load reads path from fs and parses it. Validation is left to the caller
// so flags can fill gaps first.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes TOML data over the defaults. source is used in error messages.
func Parse(data []byte, source string) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", source, err)
	}
	if cfg.NamedAccounts == nil {
		cfg.NamedAccounts = map[string]string{}
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	problems := c.storeProblems()
	if strings.TrimSpace(c.RPCURL) == "" {
		problems = append(problems, "rpc_url is required")
	}
	if !common.IsHexAddress(c.MultiSigWallet) {
		problems = append(problems, fmt.Sprintf("multisig_wallet %q is not an address", c.MultiSigWallet))
	} else if common.HexToAddress(c.MultiSigWallet) == (common.Address{}) {
		problems = append(problems, "multisig_wallet must not be the zero address")
	}
	names := make([]string, 0, len(c.NamedAccounts))
	for name := range c.NamedAccounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if addr := c.NamedAccounts[name]; !common.IsHexAddress(addr) {
			problems = append(problems, fmt.Sprintf("named_accounts.%s %q is not an address", name, addr))
		}
	}
	if c.TimeoutSeconds <= 0 {
		problems = append(problems, "timeout_seconds must be positive")
	}
	if c.Gas.FeeCapWei <= 0 || c.Gas.TipCapWei < 0 || c.Gas.TipCapWei > c.Gas.FeeCapWei {
		problems = append(problems, "gas caps must satisfy 0 <= tip_cap_wei <= fee_cap_wei, fee_cap_wei > 0")
	}
	return validationError(problems)
}

// ValidateStore checks only what is needed to locate the deployment
// records, for commands that never touch the chain.
func (c *Config) ValidateStore() error {
	return validationError(c.storeProblems())
}

func (c *Config) storeProblems() []string {
	var problems []string
	if strings.TrimSpace(c.Network) == "" {
		problems = append(problems, "network is required")
	}
	if c.ChainID <= 0 {
		problems = append(problems, "chain_id must be positive")
	}
	if strings.TrimSpace(c.DeploymentsDir) == "" {
		problems = append(problems, "deployments_dir is required")
	}
	return problems
}

func validationError(problems []string) error {
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) MultiSig() common.Address {
	return common.HexToAddress(c.MultiSigWallet)
}

// Accounts resolves named accounts, adding "deployer" as signer when the
// file does not name one.
func (c *Config) Accounts(signer common.Address) map[string]common.Address {
	out := make(map[string]common.Address, len(c.NamedAccounts)+1)
	for name, addr := range c.NamedAccounts {
		out[name] = common.HexToAddress(addr)
	}
	if _, ok := out["deployer"]; !ok {
		out["deployer"] = signer
	}
	return out
}

func (c *Config) GasFeeCap() *big.Int { return big.NewInt(c.Gas.FeeCapWei) }
func (c *Config) GasTipCap() *big.Int { return big.NewInt(c.Gas.TipCapWei) }
