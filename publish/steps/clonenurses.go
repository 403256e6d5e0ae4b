package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/maidcoingit/maidcoin/publish/contracts/clonenurses"
	"github.com/maidcoingit/maidcoin/publish/deployments"
)

var ErrTransferFailed = errors.New("ownership transfer failed")

// CloneNurses deploys CloneNurses against the already deployed NursePart,
// MaidCoin, TheMaster and MaidCafe, then hands ownership to the multi-sig.
func CloneNurses(ctx context.Context, env Env, cfg Config) error {
	if cfg.MultiSigWallet == (common.Address{}) {
		return errors.New("multi-sig wallet address is not configured")
	}
	deployer, err := env.Accounts().Account(DeployerAccount)
	if err != nil {
		return err
	}

	args, err := clonenurses.ResolveConstructorArgs(env.Get)
	if err != nil {
		return err
	}

	if _, err := env.Deploy(ctx, clonenurses.Name(), deployments.DeployOptions{
		From:     deployer,
		Args:     args.Values(),
		Log:      true,
		GasLimit: clonenurses.ImplGasLimit,
	}); err != nil {
		return err
	}

	_, err = EnsureOwner(ctx, env, clonenurses.Name(), deployer, cfg.MultiSigWallet)
	return err
}

// EnsureOwner transfers ownership of the named contract to want unless it
// already holds it. It reports whether a transfer was sent.
func EnsureOwner(ctx context.Context, env Env, name string, from, want common.Address) (bool, error) {
	out, err := env.Read(ctx, name, deployments.CallOptions{Log: true}, "owner")
	if err != nil {
		return false, err
	}
	owner, err := singleAddress(out)
	if err != nil {
		return false, fmt.Errorf("%w: %s.owner: %w", deployments.ErrReadFailed, name, err)
	}
	if owner == want {
		return false, nil
	}

	env.Logger().Info(fmt.Sprintf("Transfer %s ownership to the multi-sig wallet", name), "owner", owner, "multisig", want)
	if _, err := env.Execute(ctx, name, deployments.TxOptions{From: from, Log: true}, "transferOwnership", want); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrTransferFailed, name, err)
	}
	return true, nil
}

func singleAddress(out []any) (common.Address, error) {
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("expected 1 return value, got %d", len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("expected address, got %T", out[0])
	}
	return addr, nil
}
