package bundlecore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"
)

// eventLog records chain and relay calls in the order they happen.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, a ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, a...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeChain is an in-memory node. Every BlockNumber call returns the head
// and then advances it when advance is set. A receipt is visible once the
// last returned head has reached the block the tx landed in.
type fakeChain struct {
	mu      sync.Mutex
	log     *eventLog
	head    uint64
	seen    uint64
	advance bool
	baseFee *big.Int
	tip     *big.Int
	nonce   uint64
	chainID *big.Int
	landed  map[common.Hash]uint64
	headErr error
}

func newFakeChain(log *eventLog, head uint64) *fakeChain {
	return &fakeChain{
		log:     log,
		head:    head,
		seen:    head,
		advance: true,
		baseFee: big.NewInt(10 * params.GWei),
		tip:     big.NewInt(1 * params.GWei),
		nonce:   7,
		chainID: big.NewInt(1),
		landed:  make(map[common.Hash]uint64),
	}
}

func (c *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := &types.Header{Number: new(big.Int).SetUint64(c.head)}
	if c.baseFee != nil {
		h.BaseFee = new(big.Int).Set(c.baseFee)
	}
	return h, nil
}

func (c *fakeChain) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return c.nonce, nil
}

func (c *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.tip), nil
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headErr != nil {
		return 0, c.headErr
	}
	n := c.head
	c.seen = n
	if c.advance {
		c.head++
	}
	return n, nil
}

func (c *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.add("receipt")
	block, ok := c.landed[h]
	if !ok || block > c.seen {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{
		TxHash:      h,
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: new(big.Int).SetUint64(block),
	}, nil
}

func (c *fakeChain) land(txs types.Transactions, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tx := range txs {
		c.landed[tx.Hash()] = block
	}
}

// fakeRelay accepts every bundle and lands the one sent for landAt.
type fakeRelay struct {
	mu     sync.Mutex
	log    *eventLog
	chain  *fakeChain
	landAt uint64
	err    error
	sent   []uint64
	raws   [][][]byte
}

func (r *fakeRelay) SendBundle(_ context.Context, txs types.Transactions, target uint64) (common.Hash, error) {
	r.log.add("send %d", target)
	if r.err != nil {
		return common.Hash{}, r.err
	}
	raws := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		b, err := tx.MarshalBinary()
		if err != nil {
			return common.Hash{}, err
		}
		raws = append(raws, b)
	}
	r.mu.Lock()
	r.sent = append(r.sent, target)
	r.raws = append(r.raws, raws)
	r.mu.Unlock()
	if r.landAt != 0 && target == r.landAt {
		r.chain.land(txs, target)
	}
	return crypto.Keccak256Hash(raws...), nil
}

func (r *fakeRelay) sends() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.sent...)
}

// simRelay adds eth_callBundle support.
type simRelay struct {
	*fakeRelay
	simErr  error
	simmed  int
	simHead uint64
	simRaw  [][]byte
}

func (r *simRelay) SimulateBundle(_ context.Context, rawTxs [][]byte, target uint64) (string, error) {
	r.simmed++
	r.simHead = target
	r.simRaw = rawTxs
	return `{"result":{}}`, r.simErr
}

var errRelayDown = errors.New("503 service unavailable")

func newTestKey(t *testing.T) (*SecretKey, *ecdsa.PrivateKey) {
	t.Helper()
	prv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewSecretKey(crypto.FromECDSA(prv)), prv
}

const (
	tokenAddr = "0x1111111111111111111111111111111111111111"
	recipient = "0x2222222222222222222222222222222222222222"
)

func testSpecs() []TransactionSpec {
	return []TransactionSpec{
		{
			To:                tokenAddr,
			FunctionSignature: "mint(uint256)",
			Value:             "0.05 ether",
			Args:              []any{int64(2)},
			GasLimit:          150_000,
		},
		{
			To:                tokenAddr,
			FunctionSignature: "transfer(address,uint256)",
			Value:             "0 wei",
			Args:              []any{recipient, "1000"},
			GasLimit:          60_000,
		},
	}
}
