package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/maidcoingit/maidcoin/publish"
	"github.com/maidcoingit/maidcoin/publish/artifacts"
	"github.com/maidcoingit/maidcoin/publish/config"
	"github.com/maidcoingit/maidcoin/publish/deployments"
	"github.com/maidcoingit/maidcoin/publish/records"
	"github.com/maidcoingit/maidcoin/publish/steps"
)

const defaultConfigPath = "deploy.toml"

// dialFunc connects a signing backend. The returned func releases it.
type dialFunc func(cfg *config.Config, key *ecdsa.PrivateKey) (deployments.Backend, func() error, error)

func dialDeployer(cfg *config.Config, key *ecdsa.PrivateKey) (deployments.Backend, func() error, error) {
	d, err := publish.NewDeployer(cfg.RPCURL, cfg.ChainID, key, cfg.GasFeeCap(), cfg.GasTipCap())
	if err != nil {
		return nil, nil, err
	}
	d.SetGasHeadroom(cfg.Gas.LimitHeadroomPercent)
	return d, d.Close, nil
}

type report struct {
	Network string                    `json:"network"`
	ChainID int64                     `json:"chain_id"`
	Signer  string                    `json:"signer,omitempty"`
	Records map[string]records.Record `json:"records"`
}

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "path to the TOML deploy config",
		Value:   defaultConfigPath,
		EnvVars: []string{"MAID_DEPLOY_CONFIG"},
	}
	networkFlag = &cli.StringFlag{
		Name:    "network",
		Usage:   "network name, selects deployments/<network>",
		EnvVars: []string{"NETWORK"},
	}
	rpcURLFlag = &cli.StringFlag{
		Name:    "rpc-url",
		Usage:   "JSON-RPC endpoint",
		EnvVars: []string{"RPC_URL"},
	}
	chainIDFlag = &cli.Int64Flag{
		Name:    "chain-id",
		Usage:   "chain id",
		EnvVars: []string{"CHAIN_ID"},
	}
	privateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "deployer private key hex",
		EnvVars: []string{"PRIVATE_KEY"},
	}
	publicAddressFlag = &cli.StringFlag{
		Name:    "public-address",
		Usage:   "expected deployer address, checked against the private key",
		EnvVars: []string{"PUBLIC_ADDRESS"},
	}
	multiSigFlag = &cli.StringFlag{
		Name:    "multisig-wallet",
		Usage:   "address that must own deployed contracts",
		EnvVars: []string{"MULTISIG_WALLET"},
	}
	deploymentsDirFlag = &cli.StringFlag{
		Name:  "deployments-dir",
		Usage: "root of the deployment record store",
	}
	artifactsDirFlag = &cli.StringFlag{
		Name:  "artifacts-dir",
		Usage: "directory holding <Contract>.json artifacts",
	}
	timeoutFlag = &cli.IntFlag{
		Name:  "timeout-seconds",
		Usage: "overall timeout for a deploy run",
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "lowest log level to emit: trace, debug, info, warn, error, crit",
		Value:   "info",
		EnvVars: []string{"LOG_LEVEL"},
	}
	logColorFlag = &cli.BoolFlag{
		Name:  "log.color",
		Usage: "color terminal logs",
	}
	tagsFlag = &cli.StringSliceFlag{
		Name:  "tags",
		Usage: "only run steps carrying one of these tags",
	}
)

func newApp(fs afero.Fs, dial dialFunc, stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "maid-deploy"
	app.Usage = "Deploys MaidCoin contracts and hands their ownership to the multi-sig."
	app.Version = formatVersion(Version, GitCommit, GitDate)
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{
		configFlag, networkFlag, rpcURLFlag, chainIDFlag, multiSigFlag,
		deploymentsDirFlag, artifactsDirFlag, timeoutFlag, logLevelFlag, logColorFlag,
	}
	app.Before = func(c *cli.Context) error {
		return setupLogging(c, stderr)
	}
	app.Commands = []*cli.Command{
		{
			Name:  "deploy",
			Usage: "runs the deploy steps against the configured network",
			Flags: []cli.Flag{privateKeyFlag, publicAddressFlag, tagsFlag},
			Action: func(c *cli.Context) error {
				return deployCmd(c, fs, dial)
			},
		},
		{
			Name:      "inspect",
			Usage:     "prints a stored deployment record",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				return inspectCmd(c, fs)
			},
		},
		{
			Name:  "steps",
			Usage: "lists the known deploy steps",
			Action: func(c *cli.Context) error {
				for _, s := range steps.Default(steps.Config{}) {
					if _, err := fmt.Fprintf(c.App.Writer, "%s\t%s\n", s.ID, strings.Join(s.Tags, ",")); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
	return app
}

func formatVersion(version, commit, date string) string {
	parts := []string{version}
	if commit != "" {
		if len(commit) > 8 {
			commit = commit[:8]
		}
		parts = append(parts, commit)
	}
	if date != "" {
		parts = append(parts, date)
	}
	return strings.Join(parts, "-")
}

func setupLogging(c *cli.Context, w io.Writer) error {
	lvl, err := log.LvlFromString(c.String(logLevelFlag.Name))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, c.Bool(logColorFlag.Name))))
	return nil
}

// loadConfig reads the config file, lets flags override it and validates
// the result for a run against the chain.
func loadConfig(c *cli.Context, fs afero.Fs) (*config.Config, error) {
	cfg, err := readConfig(c, fs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfig reads the config file and applies flag overrides. A missing
// file is only an error when its path was given explicitly.
func readConfig(c *cli.Context, fs afero.Fs) (*config.Config, error) {
	path := c.String(configFlag.Name)
	cfg, err := config.Load(fs, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || c.IsSet(configFlag.Name) {
			return nil, err
		}
		cfg = config.Default()
	}
	if c.IsSet(networkFlag.Name) {
		cfg.Network = c.String(networkFlag.Name)
	}
	if c.IsSet(rpcURLFlag.Name) {
		cfg.RPCURL = c.String(rpcURLFlag.Name)
	}
	if c.IsSet(chainIDFlag.Name) {
		cfg.ChainID = c.Int64(chainIDFlag.Name)
	}
	if c.IsSet(multiSigFlag.Name) {
		cfg.MultiSigWallet = c.String(multiSigFlag.Name)
	}
	if c.IsSet(deploymentsDirFlag.Name) {
		cfg.DeploymentsDir = c.String(deploymentsDirFlag.Name)
	}
	if c.IsSet(artifactsDirFlag.Name) {
		cfg.ArtifactsDir = c.String(artifactsDirFlag.Name)
	}
	if c.IsSet(timeoutFlag.Name) {
		cfg.TimeoutSeconds = c.Int(timeoutFlag.Name)
	}
	return cfg, nil
}

func deployCmd(c *cli.Context, fs afero.Fs, dial dialFunc) error {
	cfg, err := loadConfig(c, fs)
	if err != nil {
		return err
	}
	key, signer, err := parsePrivateKey(c.String(privateKeyFlag.Name))
	if err != nil {
		return err
	}
	if pub := c.String(publicAddressFlag.Name); pub != "" {
		want, err := parseAddress(pub)
		if err != nil {
			return err
		}
		if want != signer {
			return fmt.Errorf("public-address %s does not match private key address %s", want.Hex(), signer.Hex())
		}
	}

	selected := steps.Select(steps.Default(steps.Config{MultiSigWallet: cfg.MultiSig()}), c.StringSlice(tagsFlag.Name))
	if len(selected) == 0 {
		return fmt.Errorf("no deploy steps match tags %v", c.StringSlice(tagsFlag.Name))
	}

	store, err := records.NewFileStore(fs, cfg.DeploymentsDir, cfg.Network, cfg.ChainID)
	if err != nil {
		return err
	}
	backend, closeBackend, err := dial(cfg, key)
	if err != nil {
		return err
	}
	defer closeBackend()

	logger := log.Root().New("network", cfg.Network)
	env := deployments.New(backend, store, artifacts.NewDir(fs, cfg.ArtifactsDir), cfg.Accounts(signer), logger)

	ctx, cancel := context.WithTimeout(c.Context, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	if err := steps.RunAll(ctx, env, selected); err != nil {
		return err
	}

	out := report{Network: cfg.Network, ChainID: cfg.ChainID, Signer: signer.Hex(), Records: map[string]records.Record{}}
	names, err := store.List()
	if err != nil {
		return err
	}
	for _, name := range names {
		rec, err := store.Get(name)
		if err != nil {
			return err
		}
		rec.ABI = nil
		out.Records[name] = rec
	}
	return writeJSON(c.App.Writer, out)
}

func inspectCmd(c *cli.Context, fs afero.Fs) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("inspect needs a deployment name")
	}
	cfg, err := readConfig(c, fs)
	if err != nil {
		return err
	}
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	store, err := records.OpenFileStore(fs, cfg.DeploymentsDir, cfg.Network, cfg.ChainID)
	if err != nil {
		return err
	}
	rec, err := store.Get(name)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, rec)
}

func writeJSON(w io.Writer, v any) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(blob))
	return err
}

func parsePrivateKey(v string) (*ecdsa.PrivateKey, common.Address, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "0x")
	if v == "" {
		return nil, common.Address{}, errors.New("private-key is required")
	}
	key, err := crypto.HexToECDSA(v)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func parseAddress(v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid address: %s", v)
	}
	return common.HexToAddress(v), nil
}
