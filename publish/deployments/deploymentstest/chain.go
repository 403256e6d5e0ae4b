// Package deploymentstest provides an in-memory chain for exercising
// deployments without a node. Deployed contracts behave like OpenZeppelin
// Ownable: the deployer becomes owner, owner() reads it and
// transferOwnership(address) changes it when sent by the owner.
package deploymentstest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/maidcoingit/maidcoin/publish"
)

var (
	selectorOwner             = crypto.Keccak256([]byte("owner()"))[:4]
	selectorTransferOwnership = crypto.Keccak256([]byte("transferOwnership(address)"))[:4]
)

type Tx struct {
	Hash common.Hash
	From common.Address
	To   *common.Address
	Data []byte
}

type Chain struct {
	mu       sync.Mutex
	signer   common.Address
	nonce    uint64
	block    uint64
	code     map[common.Address][]byte
	owners   map[common.Address]common.Address
	receipts map[common.Hash]*types.Receipt

	Txs []Tx

	// Failure injection.
	DeployErr      error
	CallErr        error
	TransactErr    error
	RevertDeploy   bool
	RevertTransact bool
}

func NewChain(signer common.Address) *Chain {
	return &Chain{
		signer:   signer,
		code:     map[common.Address][]byte{},
		owners:   map[common.Address]common.Address{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (c *Chain) Address() common.Address {
	return c.signer
}

// SetCode places a contract at addr, as if deployed in an earlier run.
func (c *Chain) SetCode(addr common.Address, code []byte, owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = code
	c.owners[addr] = owner
}

func (c *Chain) Owner(addr common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owners[addr]
}

// Deployments returns the contract creation transactions sent so far.
func (c *Chain) Deployments() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Tx
	for _, tx := range c.Txs {
		if tx.To == nil {
			out = append(out, tx)
		}
	}
	return out
}

// Calls returns the non-creation transactions sent so far.
func (c *Chain) Calls() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Tx
	for _, tx := range c.Txs {
		if tx.To != nil {
			out = append(out, tx)
		}
	}
	return out
}

func (c *Chain) record(to *common.Address, data []byte, status uint64, created common.Address) common.Hash {
	c.block++
	hash := crypto.Keccak256Hash(c.signer.Bytes(), new(big.Int).SetUint64(c.nonce).Bytes())
	c.nonce++
	c.Txs = append(c.Txs, Tx{Hash: hash, From: c.signer, To: to, Data: bytes.Clone(data)})
	c.receipts[hash] = &types.Receipt{
		Status:          status,
		TxHash:          hash,
		ContractAddress: created,
		GasUsed:         21_000,
		BlockNumber:     new(big.Int).SetUint64(c.block),
	}
	return hash
}

func (c *Chain) DeployContract(_ context.Context, data []byte, _ uint64) (publish.DeployResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeployErr != nil {
		return publish.DeployResult{}, c.DeployErr
	}
	addr := crypto.CreateAddress(c.signer, c.nonce)
	status := types.ReceiptStatusSuccessful
	created := addr
	if c.RevertDeploy {
		status = types.ReceiptStatusFailed
		created = common.Address{}
	} else {
		c.code[addr] = []byte{0x60, 0x80}
		c.owners[addr] = c.signer
	}
	hash := c.record(nil, data, status, created)
	return publish.DeployResult{TxHash: hash, ContractAddress: addr}, nil
}

func (c *Chain) Transact(_ context.Context, to common.Address, calldata []byte, _ uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TransactErr != nil {
		return common.Hash{}, c.TransactErr
	}
	status := types.ReceiptStatusSuccessful
	switch {
	case c.RevertTransact:
		status = types.ReceiptStatusFailed
	case len(calldata) == 36 && bytes.Equal(calldata[:4], selectorTransferOwnership):
		if c.owners[to] != c.signer {
			status = types.ReceiptStatusFailed
			break
		}
		c.owners[to] = common.BytesToAddress(calldata[4:])
	}
	return c.record(&to, calldata, status, common.Address{}), nil
}

func (c *Chain) Call(_ context.Context, _, to common.Address, calldata []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CallErr != nil {
		return nil, c.CallErr
	}
	if len(c.code[to]) == 0 {
		return nil, nil
	}
	if len(calldata) >= 4 && bytes.Equal(calldata[:4], selectorOwner) {
		return common.LeftPadBytes(c.owners[to].Bytes(), 32), nil
	}
	return nil, errors.New("execution reverted")
}

func (c *Chain) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[addr], nil
}

func (c *Chain) WaitForReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", txHash.Hex())
	}
	return r, nil
}
