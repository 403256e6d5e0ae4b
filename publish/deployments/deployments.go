// Package deployments runs named contract deployments against a chain and
// keeps their records in a store across runs. It offers the get, deploy,
// read and execute operations deployment steps are written against.
package deployments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/maidcoingit/maidcoin/publish"
	"github.com/maidcoingit/maidcoin/publish/artifacts"
	"github.com/maidcoingit/maidcoin/publish/records"
)

var (
	ErrDependencyNotFound = errors.New("no deployment found")
	ErrDeploymentFailed   = errors.New("deployment failed")
	ErrReadFailed         = errors.New("read failed")
	ErrExecutionFailed    = errors.New("execution failed")
	ErrSignerMismatch     = errors.New("sender is not the configured signer")
	ErrUnknownAccount     = errors.New("unknown named account")
)

// Backend is the chain access an Environment needs. *publish.Deployer
// implements it.
type Backend interface {
	Address() common.Address
	DeployContract(ctx context.Context, data []byte, gasLimit uint64) (publish.DeployResult, error)
	Transact(ctx context.Context, to common.Address, calldata []byte, gasLimit uint64) (common.Hash, error)
	Call(ctx context.Context, from, to common.Address, calldata []byte) ([]byte, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*publish.Deployer)(nil)

type NamedAccounts map[string]common.Address

func (n NamedAccounts) Account(name string) (common.Address, error) {
	addr, ok := n[name]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}
	return addr, nil
}

type (
	DeployOptions struct {
		From common.Address
		// Contract names the artifact when it differs from the record name.
		Contract string
		Args     []any
		Log      bool
		GasLimit uint64
	}

	CallOptions struct {
		From common.Address
		Log  bool
	}

	TxOptions struct {
		From     common.Address
		Log      bool
		GasLimit uint64
	}

	DeployResult struct {
		records.Record
		// Newly is false when an identical earlier deployment was reused.
		Newly bool
	}
)

type Environment struct {
	backend   Backend
	store     records.Store
	artifacts artifacts.Source
	accounts  NamedAccounts
	logger    log.Logger
	now       func() time.Time
}

func New(backend Backend, store records.Store, source artifacts.Source, accounts NamedAccounts, logger log.Logger) *Environment {
	if logger == nil {
		logger = log.Root()
	}
	return &Environment{
		backend:   backend,
		store:     store,
		artifacts: source,
		accounts:  accounts,
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Environment) Accounts() NamedAccounts {
	return e.accounts
}

func (e *Environment) Logger() log.Logger {
	return e.logger
}

func (e *Environment) Get(name string) (records.Record, error) {
	rec, err := e.store.Get(name)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return records.Record{}, fmt.Errorf("%w for %s: %w", ErrDependencyNotFound, name, err)
		}
		return records.Record{}, fmt.Errorf("load record %s: %w", name, err)
	}
	return rec, nil
}

func (e *Environment) Deploy(ctx context.Context, name string, opts DeployOptions) (DeployResult, error) {
	if err := e.checkSigner(opts.From); err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	contract := opts.Contract
	if contract == "" {
		contract = name
	}
	art, err := e.artifacts.Artifact(contract)
	if err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	data, err := art.Constructor(opts.Args...)
	if err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	args := FormatArgs(opts.Args)

	existing, err := e.store.Get(name)
	switch {
	case err == nil:
		reuse, err := e.reusable(ctx, existing, art.BytecodeHash(), args)
		if err != nil {
			return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
		}
		if reuse {
			e.logf(opts.Log, "Reusing deployment", "name", name, "address", existing.Address, "tx", existing.TransactionHash)
			return DeployResult{Record: existing}, nil
		}
	case !errors.Is(err, records.ErrNotFound):
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}

	e.logger.Debug("Deploying contract", "name", name, "contract", contract, "args", args)
	sent, err := e.backend.DeployContract(ctx, data, opts.GasLimit)
	if err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	receipt, err := e.backend.WaitForReceipt(ctx, sent.TxHash)
	if err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	if err := publish.CheckReceipt(receipt); err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	addr := sent.ContractAddress
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}
	code, err := e.backend.CodeAt(ctx, addr)
	if err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	if len(code) == 0 {
		return DeployResult{}, fmt.Errorf("%w: %s: no code at %s", ErrDeploymentFailed, name, addr.Hex())
	}

	rec := records.Record{
		Address:         addr,
		ABI:             art.RawABI,
		TransactionHash: sent.TxHash,
		Receipt:         summarize(receipt),
		Args:            args,
		BytecodeHash:    art.BytecodeHash(),
		DeployedAt:      e.now().UTC(),
	}
	if err := e.store.Put(name, rec); err != nil {
		return DeployResult{}, fmt.Errorf("%w: %s: %w", ErrDeploymentFailed, name, err)
	}
	e.logf(opts.Log, "Deployed contract", "name", name, "address", addr, "tx", sent.TxHash, "gasUsed", receipt.GasUsed)
	return DeployResult{Record: rec, Newly: true}, nil
}

// reusable reports whether rec was deployed from the same bytecode with the
// same arguments and still has code on chain.
func (e *Environment) reusable(ctx context.Context, rec records.Record, bytecodeHash string, args []string) (bool, error) {
	if rec.BytecodeHash != bytecodeHash || !slices.Equal([]string(rec.Args), args) {
		return false, nil
	}
	code, err := e.backend.CodeAt(ctx, rec.Address)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

func (e *Environment) Read(ctx context.Context, name string, opts CallOptions, method string, args ...any) ([]any, error) {
	rec, art, err := e.contract(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrReadFailed, name, method, err)
	}
	calldata, err := art.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrReadFailed, name, method, err)
	}
	out, err := e.backend.Call(ctx, opts.From, rec.Address, calldata)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrReadFailed, name, method, err)
	}
	values, err := art.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrReadFailed, name, method, err)
	}
	e.logf(opts.Log, "Read", "name", name, "method", method, "args", FormatArgs(args), "result", FormatArgs(values))
	return values, nil
}

func (e *Environment) Execute(ctx context.Context, name string, opts TxOptions, method string, args ...any) (*types.Receipt, error) {
	if err := e.checkSigner(opts.From); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrExecutionFailed, name, method, err)
	}
	rec, art, err := e.contract(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrExecutionFailed, name, method, err)
	}
	calldata, err := art.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrExecutionFailed, name, method, err)
	}
	txHash, err := e.backend.Transact(ctx, rec.Address, calldata, opts.GasLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrExecutionFailed, name, method, err)
	}
	receipt, err := e.backend.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrExecutionFailed, name, method, err)
	}
	if err := publish.CheckReceipt(receipt); err != nil {
		return receipt, fmt.Errorf("%w: %s.%s: %w", ErrExecutionFailed, name, method, err)
	}
	e.logf(opts.Log, "Executed", "name", name, "method", method, "args", FormatArgs(args), "tx", txHash, "gasUsed", receipt.GasUsed)
	return receipt, nil
}

// contract returns the record for name and the ABI it was deployed with,
// falling back to the current artifact for records stored without one.
func (e *Environment) contract(name string) (records.Record, *artifacts.Artifact, error) {
	rec, err := e.Get(name)
	if err != nil {
		return records.Record{}, nil, err
	}
	if len(rec.ABI) > 0 {
		parsed, err := abi.JSON(bytes.NewReader(rec.ABI))
		if err != nil {
			return records.Record{}, nil, fmt.Errorf("parse stored abi of %s: %w", name, err)
		}
		return rec, &artifacts.Artifact{Name: name, ABI: parsed, RawABI: rec.ABI}, nil
	}
	art, err := e.artifacts.Artifact(name)
	if err != nil {
		return records.Record{}, nil, err
	}
	return rec, art, nil
}

func (e *Environment) checkSigner(from common.Address) error {
	signer := e.backend.Address()
	if from != (common.Address{}) && from != signer {
		return fmt.Errorf("%w: %s != %s", ErrSignerMismatch, from.Hex(), signer.Hex())
	}
	return nil
}

func (e *Environment) logf(verbose bool, msg string, ctx ...any) {
	if verbose {
		e.logger.Info(msg, ctx...)
		return
	}
	e.logger.Debug(msg, ctx...)
}

func summarize(r *types.Receipt) *records.Receipt {
	out := &records.Receipt{
		GasUsed:           records.Quantity(r.GasUsed),
		CumulativeGasUsed: records.Quantity(r.CumulativeGasUsed),
		Status:            records.Quantity(r.Status),
	}
	if r.BlockNumber != nil {
		out.BlockNumber = records.Quantity(r.BlockNumber.Uint64())
	}
	return out
}

// FormatArgs renders call and constructor arguments the way they are stored
// in deployment records.
func FormatArgs(args []any) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case common.Address:
			out[i] = v.Hex()
		case common.Hash:
			out[i] = v.Hex()
		case *big.Int:
			out[i] = v.String()
		case []byte:
			out[i] = common.Bytes2Hex(v)
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
