package publish

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3/w3types"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// fakeNode answers the handful of eth_ methods the Deployer uses.
type fakeNode struct {
	mu      sync.Mutex
	nonce   uint64
	status  uint64
	pending bool
	sent    []*types.Transaction
	methods []string

	// senders of eth_estimateGas requests
	estimators []common.Address
}

func (n *fakeNode) handle(req rpcRequest) any {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods = append(n.methods, req.Method)

	switch req.Method {
	case "eth_getTransactionCount":
		return hexutil.Uint64(n.nonce)
	case "eth_estimateGas":
		var msg struct {
			From common.Address `json:"from"`
		}
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params[0], &msg)
		}
		n.estimators = append(n.estimators, msg.From)
		return hexutil.Uint64(100_000)
	case "eth_getCode":
		return hexutil.Bytes{0x60, 0x80}
	case "eth_call":
		return hexutil.Bytes(common.LeftPadBytes([]byte{0xff}, 32))
	case "eth_sendRawTransaction":
		var raw hexutil.Bytes
		if err := json.Unmarshal(req.Params[0], &raw); err != nil {
			return nil
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil
		}
		n.sent = append(n.sent, tx)
		n.nonce++
		return tx.Hash()
	case "eth_getTransactionReceipt":
		if n.pending {
			return nil
		}
		var hash common.Hash
		if err := json.Unmarshal(req.Params[0], &hash); err != nil {
			return nil
		}
		return map[string]any{
			"transactionHash":   hash,
			"blockHash":         common.HexToHash("0x01"),
			"blockNumber":       "0x1",
			"transactionIndex":  "0x0",
			"cumulativeGasUsed": "0x5208",
			"gasUsed":           "0x5208",
			"effectiveGasPrice": "0x1",
			"logsBloom":         types.Bloom{},
			"logs":              []any{},
			"status":            hexutil.Uint64(n.status),
			"type":              "0x2",
		}
	}
	return nil
}

func (n *fakeNode) sentTxs() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

func (n *fakeNode) calledMethods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.methods...)
}

func (n *fakeNode) estimateSenders() []common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]common.Address(nil), n.estimators...)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		var reqs []rpcRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resps := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			resps[i] = rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: n.handle(req)}
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: n.handle(req)})
}

func newTestDeployer(t *testing.T, node *fakeNode) *Deployer {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	d, err := NewDeployer(srv.URL, 1337, key, big.NewInt(2_000_000_000), big.NewInt(1_000_000_000))
	require.NoError(t, err)
	d.poll = 10 * time.Millisecond
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDeployContract(t *testing.T) {
	node := &fakeNode{nonce: 5, status: 1}
	d := newTestDeployer(t, node)
	ctx := context.Background()

	res, err := d.DeployContract(ctx, []byte{0x60, 0x80}, 0)
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(d.Address(), 5), res.ContractAddress)

	sent := node.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]
	require.Nil(t, tx.To())
	require.EqualValues(t, 5, tx.Nonce())
	require.EqualValues(t, 120_000, tx.Gas())
	require.Equal(t, res.TxHash, tx.Hash())

	sender, err := types.Sender(types.NewLondonSigner(big.NewInt(1337)), tx)
	require.NoError(t, err)
	require.Equal(t, d.Address(), sender)

	receipt, err := d.WaitForReceipt(ctx, res.TxHash)
	require.NoError(t, err)
	require.NoError(t, CheckReceipt(receipt))
}

func TestTransactUsesGivenGasLimit(t *testing.T) {
	node := &fakeNode{status: 0}
	d := newTestDeployer(t, node)
	ctx := context.Background()
	to := common.HexToAddress("0xc1")

	hash, err := d.Transact(ctx, to, []byte{0xf2, 0xfd, 0xe3, 0x8b}, 50_000)
	require.NoError(t, err)
	sent := node.sentTxs()
	require.Len(t, sent, 1)
	require.Equal(t, &to, sent[0].To())
	require.EqualValues(t, 50_000, sent[0].Gas())
	require.NotContains(t, node.calledMethods(), "eth_estimateGas")

	receipt, err := d.WaitForReceipt(ctx, hash)
	require.NoError(t, err)
	require.ErrorIs(t, CheckReceipt(receipt), ErrReverted)
}

func TestCallAndCode(t *testing.T) {
	d := newTestDeployer(t, &fakeNode{})
	ctx := context.Background()
	to := common.HexToAddress("0xc1")

	out, err := d.Call(ctx, common.Address{}, to, []byte{0x8d, 0xa5, 0xcb, 0x5b})
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xff"), common.BytesToAddress(out))

	code, err := d.CodeAt(ctx, to)
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x80}, code)
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	d := newTestDeployer(t, &fakeNode{pending: true})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.WaitForReceipt(ctx, common.HexToHash("0x01"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckReceipt(t *testing.T) {
	require.Error(t, CheckReceipt(nil))
	require.NoError(t, CheckReceipt(&types.Receipt{Status: types.ReceiptStatusSuccessful}))
	require.ErrorIs(t, CheckReceipt(&types.Receipt{Status: types.ReceiptStatusFailed}), ErrReverted)
}

func TestEstimateGasDefaultsSender(t *testing.T) {
	node := &fakeNode{}
	d := newTestDeployer(t, node)
	to := common.HexToAddress("0xc1")
	msg := &w3types.Message{To: &to, Input: []byte{0x8d, 0xa5, 0xcb, 0x5b}}

	gas, err := d.EstimateGas(context.Background(), msg)
	require.NoError(t, err)
	require.EqualValues(t, 120_000, gas)
	require.Equal(t, common.Address{}, msg.From)
	require.Equal(t, []common.Address{d.Address()}, node.estimateSenders())

	d.SetGasHeadroom(0)
	other := common.HexToAddress("0xbeef")
	gas, err = d.EstimateGas(context.Background(), &w3types.Message{From: other, To: &to})
	require.NoError(t, err)
	require.EqualValues(t, 100_000, gas)
	require.Equal(t, other, node.estimateSenders()[1])
}
