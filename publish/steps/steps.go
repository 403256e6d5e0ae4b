// Package steps holds the deployment steps run by maid-deploy, in the
// numbered order they were written in.
package steps

import (
	"context"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/maidcoingit/maidcoin/publish/deployments"
	"github.com/maidcoingit/maidcoin/publish/records"
)

const DeployerAccount = "deployer"

// Env is what a step may do against the chain. *deployments.Environment
// implements it.
type Env interface {
	Accounts() deployments.NamedAccounts
	Logger() log.Logger
	Get(name string) (records.Record, error)
	Deploy(ctx context.Context, name string, opts deployments.DeployOptions) (deployments.DeployResult, error)
	Read(ctx context.Context, name string, opts deployments.CallOptions, method string, args ...any) ([]any, error)
	Execute(ctx context.Context, name string, opts deployments.TxOptions, method string, args ...any) (*types.Receipt, error)
}

var _ Env = (*deployments.Environment)(nil)

type Config struct {
	MultiSigWallet common.Address
}

type Step struct {
	ID   string
	Tags []string
	Run  func(ctx context.Context, env Env) error
}

// Default returns every known step in execution order.
func Default(cfg Config) []Step {
	return []Step{
		{
			ID:   "05_CloneNurses",
			Tags: []string{"CloneNurses"},
			Run: func(ctx context.Context, env Env) error {
				return CloneNurses(ctx, env, cfg)
			},
		},
	}
}

// Select keeps the steps carrying at least one of tags. No tags keeps all.
func Select(all []Step, tags []string) []Step {
	if len(tags) == 0 {
		return all
	}
	var out []Step
	for _, s := range all {
		if slices.ContainsFunc(s.Tags, func(t string) bool { return slices.Contains(tags, t) }) {
			out = append(out, s)
		}
	}
	return out
}

// RunAll runs steps one after another and stops at the first failure.
func RunAll(ctx context.Context, env Env, steps []Step) error {
	for _, s := range steps {
		env.Logger().Info("Running deploy step", "id", s.ID)
		if err := s.Run(ctx, env); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	return nil
}
