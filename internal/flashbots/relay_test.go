package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/mintbot/internal/bundlecore"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type recorded struct {
	method    string
	params    json.RawMessage
	signature string
	body      []byte
}

// fakeRelay answers JSON-RPC calls, single or batched, with handle.
type fakeRelay struct {
	mu     sync.Mutex
	calls  []recorded
	status int
	handle func(method string, params json.RawMessage) (any, *jsonrpcError)
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if f.status != 0 {
		http.Error(w, "unavailable", f.status)
		return
	}
	batch := bytes.HasPrefix(bytes.TrimSpace(body), []byte("["))
	var reqs []rpcRequest
	if batch {
		_ = json.Unmarshal(body, &reqs)
	} else {
		var req rpcRequest
		_ = json.Unmarshal(body, &req)
		reqs = []rpcRequest{req}
	}
	resps := make([]rpcResponse, 0, len(reqs))
	for _, req := range reqs {
		var param json.RawMessage
		if len(req.Params) > 0 {
			param = req.Params[0]
		}
		f.mu.Lock()
		f.calls = append(f.calls, recorded{
			method:    req.Method,
			params:    param,
			signature: r.Header.Get(SignatureHeader),
			body:      body,
		})
		f.mu.Unlock()
		result, rpcErr := f.handle(req.Method, param)
		resps = append(resps, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
	}
	w.Header().Set("Content-Type", "application/json")
	if batch {
		_ = json.NewEncoder(w).Encode(resps)
	} else {
		_ = json.NewEncoder(w).Encode(resps[0])
	}
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	prv, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(srv.URL, bundlecore.NewSecretKey(crypto.FromECDSA(prv)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, prv
}

func testTxs(t *testing.T) types.Transactions {
	t.Helper()
	prv, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := types.LatestSignerForChainID(big.NewInt(1))
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	var txs types.Transactions
	for i := uint64(0); i < 2; i++ {
		tx, err := types.SignNewTx(prv, signer, &types.DynamicFeeTx{
			ChainID:   big.NewInt(1),
			Nonce:     i,
			Gas:       21_000,
			GasTipCap: big.NewInt(2_000_000_000),
			GasFeeCap: big.NewInt(30_000_000_000),
			To:        &to,
			Value:     big.NewInt(0),
		})
		require.NoError(t, err)
		txs = append(txs, tx)
	}
	return txs
}

func encodeTxs(t *testing.T, txs types.Transactions) [][]byte {
	t.Helper()
	out := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		b, err := tx.MarshalBinary()
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func recoverSigner(t *testing.T, body []byte, header string) common.Address {
	t.Helper()
	addr, sigHex, ok := strings.Cut(header, ":")
	require.True(t, ok, header)
	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(crypto.Keccak256Hash(body).Hex())), sig)
	require.NoError(t, err)
	got := crypto.PubkeyToAddress(*pub)
	assert.Equal(t, common.HexToAddress(addr), got)
	return got
}

func TestNewClientValidation(t *testing.T) {
	prv, err := crypto.GenerateKey()
	require.NoError(t, err)
	_, err = NewClient("  ", bundlecore.NewSecretKey(crypto.FromECDSA(prv)))
	require.Error(t, err)

	wiped := bundlecore.NewSecretKey(crypto.FromECDSA(prv))
	wiped.Wipe()
	_, err = NewClient("http://127.0.0.1:1", wiped)
	require.Error(t, err)
}

func TestClientKeepsOwnKeyCopy(t *testing.T) {
	prv, err := crypto.GenerateKey()
	require.NoError(t, err)
	key := bundlecore.NewSecretKey(crypto.FromECDSA(prv))
	c, err := NewClient("http://127.0.0.1:1", key)
	require.NoError(t, err)
	key.Wipe()

	assert.Equal(t, crypto.PubkeyToAddress(prv.PublicKey), c.Address())
	_, err = c.signBody([]byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.Zero(t, c.authKey.D.Sign())
}

func TestSendBundle(t *testing.T) {
	want := common.HexToHash("0xabcdef")
	relay := &fakeRelay{handle: func(method string, _ json.RawMessage) (any, *jsonrpcError) {
		if method != "eth_sendBundle" {
			return nil, &jsonrpcError{Code: -32601, Message: "method not found"}
		}
		return map[string]any{"bundleHash": want.Hex()}, nil
	}}
	c, prv := newTestClient(t, relay)
	txs := testTxs(t)

	got, err := c.SendBundle(context.Background(), txs, 101)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.Len(t, relay.calls, 1)
	call := relay.calls[0]
	assert.Equal(t, "eth_sendBundle", call.method)
	assert.True(t, strings.HasPrefix(strings.ToLower(call.signature), strings.ToLower(crypto.PubkeyToAddress(prv.PublicKey).Hex())+":"))

	var param struct {
		Txs         []hexutil.Bytes `json:"txs"`
		BlockNumber string          `json:"blockNumber"`
	}
	require.NoError(t, json.Unmarshal(call.params, &param))
	assert.Equal(t, "0x65", param.BlockNumber)
	require.Len(t, param.Txs, 2)
	for i, raw := range param.Txs {
		want, err := txs[i].MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, want, []byte(raw))
	}
}

func TestSendBundleErrors(t *testing.T) {
	relay := &fakeRelay{handle: func(string, json.RawMessage) (any, *jsonrpcError) {
		return nil, &jsonrpcError{Code: -32000, Message: "bundle rejected"}
	}}
	c, _ := newTestClient(t, relay)
	_, err := c.SendBundle(context.Background(), testTxs(t), 101)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eth_sendBundle")

	down := &fakeRelay{status: http.StatusServiceUnavailable}
	c, _ = newTestClient(t, down)
	_, err = c.SendBundle(context.Background(), testTxs(t), 101)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.SendBundle(ctx, testTxs(t), 101)
	require.Error(t, err)
}

func TestSimulateBundle(t *testing.T) {
	relay := &fakeRelay{handle: func(method string, _ json.RawMessage) (any, *jsonrpcError) {
		return map[string]any{
			"bundleHash": "0x01",
			"results": []map[string]any{
				{"txHash": "0xaa", "gasUsed": 21000},
				{"txHash": "0xbb", "gasUsed": 21000},
			},
		}, nil
	}}
	c, prv := newTestClient(t, relay)

	raw, err := c.SimulateBundle(context.Background(), encodeTxs(t, testTxs(t)), 101)
	require.NoError(t, err)
	assert.Contains(t, raw, "0xbb")

	require.Len(t, relay.calls, 1)
	call := relay.calls[0]
	assert.Equal(t, "eth_callBundle", call.method)
	assert.Equal(t, crypto.PubkeyToAddress(prv.PublicKey), recoverSigner(t, call.body, call.signature))

	_, err = c.SimulateBundle(context.Background(), nil, 101)
	require.Error(t, err)
	assert.Len(t, relay.calls, 1, "an empty bundle is not sent")

	var param struct {
		Txs              []string `json:"txs"`
		BlockNumber      string   `json:"blockNumber"`
		StateBlockNumber string   `json:"stateBlockNumber"`
	}
	require.NoError(t, json.Unmarshal(call.params, &param))
	assert.Len(t, param.Txs, 2)
	assert.Equal(t, "0x65", param.BlockNumber)
	assert.Equal(t, "latest", param.StateBlockNumber)
}

func TestSimulateBundleFailures(t *testing.T) {
	tests := []struct {
		name    string
		result  any
		rpcErr  *jsonrpcError
		status  int
		wantErr string
	}{
		{
			name:    "revert",
			result:  map[string]any{"results": []map[string]any{{"txHash": "0xaa"}, {"txHash": "0xbb", "revert": "sold out"}}},
			wantErr: "tx #1 0xbb: sold out",
		},
		{
			name:    "tx error",
			result:  map[string]any{"results": []map[string]any{{"txHash": "0xaa", "error": "nonce too low"}}},
			wantErr: "nonce too low",
		},
		{
			name:    "rpc error",
			rpcErr:  &jsonrpcError{Code: -32000, Message: "unknown block"},
			wantErr: "unknown block",
		},
		{
			name:    "empty result",
			wantErr: "empty result",
		},
		{
			name:    "http status",
			status:  http.StatusForbidden,
			wantErr: "http 403",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := &fakeRelay{status: tt.status, handle: func(string, json.RawMessage) (any, *jsonrpcError) {
				return tt.result, tt.rpcErr
			}}
			c, _ := newTestClient(t, relay)
			_, err := c.SimulateBundle(context.Background(), encodeTxs(t, testTxs(t)), 101)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
