package config

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const validTOML = `
network = "mainnet"
rpc_url = "http://127.0.0.1:8545"
chain_id = 1
multisig_wallet = "0x00000000000000000000000000000000000000fF"

[gas]
fee_cap_wei = 3000000000

[named_accounts]
deployer = "0x00000000000000000000000000000000000000d0"
`

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "deploy.toml", []byte(validTOML), 0644))

	cfg, err := Load(fs, "deploy.toml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "mainnet", cfg.Network)
	require.EqualValues(t, 1, cfg.ChainID)
	require.Equal(t, common.HexToAddress("0xff"), cfg.MultiSig())
	require.EqualValues(t, 3_000_000_000, cfg.GasFeeCap().Int64())
	require.EqualValues(t, DefaultGasTipCap, cfg.GasTipCap().Int64())
	require.Equal(t, DefaultDeploymentsDir, cfg.DeploymentsDir)
	require.Equal(t, DefaultTimeoutSeconds, cfg.TimeoutSeconds)

	_, err = Load(fs, "missing.toml")
	require.Error(t, err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`netwrok = "mainnet"`), "test")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConfigValidation)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "missing network", mutate: func(c *Config) { c.Network = "" }, want: "network is required"},
		{name: "missing rpc", mutate: func(c *Config) { c.RPCURL = " " }, want: "rpc_url is required"},
		{name: "bad chain id", mutate: func(c *Config) { c.ChainID = 0 }, want: "chain_id"},
		{name: "malformed multisig", mutate: func(c *Config) { c.MultiSigWallet = "0x1234" }, want: "multisig_wallet"},
		{name: "zero multisig", mutate: func(c *Config) { c.MultiSigWallet = common.Address{}.Hex() }, want: "zero address"},
		{name: "bad named account", mutate: func(c *Config) { c.NamedAccounts["treasury"] = "nope" }, want: "named_accounts.treasury"},
		{name: "bad timeout", mutate: func(c *Config) { c.TimeoutSeconds = -1 }, want: "timeout_seconds"},
		{name: "tip above cap", mutate: func(c *Config) { c.Gas.TipCapWei = c.Gas.FeeCapWei + 1 }, want: "gas caps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(validTOML), "test")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.ErrorIs(t, err, ErrConfigValidation)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestAccountsDefaultsDeployerToSigner(t *testing.T) {
	signer := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	cfg := Default()
	require.Equal(t, signer, cfg.Accounts(signer)["deployer"])

	cfg, err := Parse([]byte(validTOML), "test")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xd0"), cfg.Accounts(signer)["deployer"])
}

func TestValidateStore(t *testing.T) {
	cfg, err := Parse([]byte("network = \"bsc\"\nchain_id = 56\n"), "test")
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateStore())
	require.ErrorIs(t, cfg.Validate(), ErrConfigValidation)

	cfg.ChainID = 0
	err = cfg.ValidateStore()
	require.ErrorIs(t, err, ErrConfigValidation)
	require.ErrorContains(t, err, "chain_id")
	require.NotContains(t, err.Error(), "rpc_url")
}
