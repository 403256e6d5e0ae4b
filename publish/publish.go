package publish

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
)

// DefaultGasHeadroomPercent is added on top of eth_estimateGas results.
const DefaultGasHeadroomPercent = 20

var ErrReverted = errors.New("transaction reverted")

type (
	DeployResult struct {
		TxHash          common.Hash
		ContractAddress common.Address
	}

	Deployer struct {
		client    *w3.Client
		signer    types.Signer
		key       *ecdsa.PrivateKey
		address   common.Address
		gasFeeCap *big.Int
		gasTipCap *big.Int
		headroom  uint64
		poll      time.Duration
	}
)

func NewDeployer(rpcURL string, chainID int64, privateKey *ecdsa.PrivateKey, gasFeeCap, gasTipCap *big.Int) (*Deployer, error) {
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewDeployerFromClient(client, chainID, privateKey, gasFeeCap, gasTipCap), nil
}

// NewDeployerFromClient wraps an already connected client. Close closes it.
func NewDeployerFromClient(client *w3.Client, chainID int64, privateKey *ecdsa.PrivateKey, gasFeeCap, gasTipCap *big.Int) *Deployer {
	return &Deployer{
		client:    client,
		signer:    types.NewLondonSigner(big.NewInt(chainID)),
		key:       privateKey,
		address:   crypto.PubkeyToAddress(privateKey.PublicKey),
		gasFeeCap: gasFeeCap,
		gasTipCap: gasTipCap,
		headroom:  DefaultGasHeadroomPercent,
		poll:      2 * time.Second,
	}
}

// SetGasHeadroom changes the percentage added to gas estimates.
func (d *Deployer) SetGasHeadroom(percent uint64) {
	d.headroom = percent
}

func (d *Deployer) Address() common.Address {
	return d.address
}

func (d *Deployer) Close() error {
	return d.client.Close()
}

func (d *Deployer) getNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := d.client.CallCtx(ctx, eth.Nonce(d.address, nil).Returns(&nonce)); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

func (d *Deployer) sendTx(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	signedTx, err := types.SignTx(tx, d.signer, d.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := d.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(nil)); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	return signedTx.Hash(), nil
}

// EstimateGas asks the node for a gas estimate of msg and adds the configured
// headroom. A zero msg.From is sent as the signer; msg itself is not modified.
func (d *Deployer) EstimateGas(ctx context.Context, msg *w3types.Message) (uint64, error) {
	m := *msg
	if m.From == (common.Address{}) {
		m.From = d.address
	}
	var gas uint64
	if err := d.client.CallCtx(ctx, eth.EstimateGas(&m, nil).Returns(&gas)); err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas + gas*d.headroom/100, nil
}

// DeployContract sends a contract creation transaction. data is the creation
// bytecode with any ABI-encoded constructor arguments appended. A zero
// gasLimit is replaced by an estimate.
func (d *Deployer) DeployContract(ctx context.Context, data []byte, gasLimit uint64) (DeployResult, error) {
	if gasLimit == 0 {
		var err error
		gasLimit, err = d.EstimateGas(ctx, &w3types.Message{Input: data})
		if err != nil {
			return DeployResult{}, err
		}
	}

	nonce, err := d.getNonce(ctx)
	if err != nil {
		return DeployResult{}, err
	}

	contractAddr := crypto.CreateAddress(d.address, nonce)

	//  EIP-1559 only
	tx := types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		GasFeeCap: d.gasFeeCap,
		GasTipCap: d.gasTipCap,
		Gas:       gasLimit,
		Data:      data,
	})

	txHash, err := d.sendTx(ctx, tx)
	if err != nil {
		return DeployResult{}, err
	}

	return DeployResult{
		TxHash:          txHash,
		ContractAddress: contractAddr,
	}, nil
}

// Transact sends calldata to a deployed contract. A zero gasLimit is
// replaced by an estimate.
func (d *Deployer) Transact(ctx context.Context, to common.Address, calldata []byte, gasLimit uint64) (common.Hash, error) {
	if gasLimit == 0 {
		var err error
		gasLimit, err = d.EstimateGas(ctx, &w3types.Message{To: &to, Input: calldata})
		if err != nil {
			return common.Hash{}, err
		}
	}

	nonce, err := d.getNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		To:        &to,
		GasFeeCap: d.gasFeeCap,
		GasTipCap: d.gasTipCap,
		Gas:       gasLimit,
		Data:      calldata,
	})

	return d.sendTx(ctx, tx)
}

// Call runs eth_call against the latest block and returns the raw output.
func (d *Deployer) Call(ctx context.Context, from, to common.Address, calldata []byte) ([]byte, error) {
	if from == (common.Address{}) {
		from = d.address
	}
	var out []byte
	msg := &w3types.Message{From: from, To: &to, Input: calldata}
	if err := d.client.CallCtx(ctx, eth.Call(msg, nil, nil).Returns(&out)); err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (d *Deployer) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	if err := d.client.CallCtx(ctx, eth.Code(addr, nil).Returns(&code)); err != nil {
		return nil, fmt.Errorf("get code %s: %w", addr.Hex(), err)
	}
	return code, nil
}

func (d *Deployer) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := d.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait receipt %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// CheckReceipt reports a failed execution status as ErrReverted.
func CheckReceipt(receipt *types.Receipt) error {
	if receipt == nil {
		return errors.New("missing receipt")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
	}
	return nil
}
