// Package flashbots is the client side of a Flashbots-compatible relay.
package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	fbrpc "github.com/lmittmann/flashbots"
	"github.com/lmittmann/w3"

	"github.com/ligun0805/mintbot/internal/bundlecore"
)

// SignatureHeader carries the searcher's signature over the request body.
const SignatureHeader = "X-Flashbots-Signature"

var (
	_ bundlecore.Relay     = (*Client)(nil)
	_ bundlecore.Simulator = (*Client)(nil)
)

type Client struct {
	RelayURL string

	authKey *ecdsa.PrivateKey
	address common.Address
	rpc     *w3.Client
	http    *http.Client
}

// NewClient dials relayURL. The relay auth key is copied out of authKey and
// kept until Close.
func NewClient(relayURL string, authKey *bundlecore.SecretKey) (*Client, error) {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" {
		return nil, errors.New("relay url is empty")
	}
	var own *ecdsa.PrivateKey
	err := authKey.Use(func(prv *ecdsa.PrivateKey) error {
		b := crypto.FromECDSA(prv)
		defer clear(b)
		var err error
		own, err = crypto.ToECDSA(b)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("auth key: %w", err)
	}
	rpc, err := fbrpc.Dial(relayURL, own)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Client{
		RelayURL: relayURL,
		authKey:  own,
		address:  crypto.PubkeyToAddress(own.PublicKey),
		rpc:      rpc,
		http:     &http.Client{Timeout: 12 * time.Second},
	}, nil
}

// Address is the relay identity the requests are signed with.
func (c *Client) Address() common.Address { return c.address }

// Close releases the connection and wipes the auth key.
func (c *Client) Close() error {
	if c.authKey != nil && c.authKey.D != nil {
		clear(c.authKey.D.Bits())
		c.authKey.D.SetInt64(0)
	}
	return c.rpc.Close()
}

// SendBundle submits txs for targetBlock via eth_sendBundle.
func (c *Client) SendBundle(ctx context.Context, txs types.Transactions, targetBlock uint64) (common.Hash, error) {
	var bundleHash common.Hash
	err := c.rpc.CallCtx(ctx,
		fbrpc.SendBundle(&fbrpc.SendBundleRequest{
			Transactions: txs,
			BlockNumber:  new(big.Int).SetUint64(targetBlock),
		}).Returns(&bundleHash),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendBundle %s: %w", c.RelayURL, err)
	}
	return bundleHash, nil
}

type callBundleResult struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
	Revert string `json:"revert,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SimulateBundle dry-runs the EIP-2718 encoded rawTxs on top of the latest
// state via eth_callBundle.
// The raw relay response is returned for logging; err is set when the call
// failed or any transaction errored or reverted.
func (c *Client) SimulateBundle(ctx context.Context, rawTxs [][]byte, targetBlock uint64) (string, error) {
	if len(rawTxs) == 0 {
		return "", errors.New("eth_callBundle: empty bundle")
	}
	raws := make([]string, 0, len(rawTxs))
	for _, b := range rawTxs {
		raws = append(raws, hexutil.Encode(b))
	}
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_callBundle",
		"params": []any{map[string]any{
			"txs":              raws,
			"blockNumber":      hexutil.EncodeUint64(targetBlock),
			"stateBlockNumber": "latest",
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sig, err := c.signBody(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RelayURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	raw := string(rb)
	if resp.StatusCode != http.StatusOK {
		return raw, fmt.Errorf("eth_callBundle: http %d", resp.StatusCode)
	}

	var jr struct {
		Result *struct {
			Results []callBundleResult `json:"results"`
		} `json:"result"`
		Error *jsonrpcError `json:"error"`
	}
	if err := json.Unmarshal(rb, &jr); err != nil {
		return raw, fmt.Errorf("eth_callBundle: %w", err)
	}
	if jr.Error != nil {
		return raw, fmt.Errorf("eth_callBundle: %d %s", jr.Error.Code, jr.Error.Message)
	}
	if jr.Result == nil {
		return raw, errors.New("eth_callBundle: empty result")
	}
	for i, r := range jr.Result.Results {
		if r.Error != "" || r.Revert != "" {
			return raw, fmt.Errorf("eth_callBundle: tx #%d %s: %s%s", i, r.TxHash, r.Error, r.Revert)
		}
	}
	return raw, nil
}

// signBody produces "<address>:<signature>" where the signature is an
// EIP-191 personal signature over the hex keccak of the body.
func (c *Client) signBody(body []byte) (string, error) {
	hashed := crypto.Keccak256Hash(body).Hex()
	sig, err := crypto.Sign(accounts.TextHash([]byte(hashed)), c.authKey)
	if err != nil {
		return "", err
	}
	return c.address.Hex() + ":" + hexutil.Encode(sig), nil
}
