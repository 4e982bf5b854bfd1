package bundlecore

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var errKeyWiped = errors.New("private key already wiped")

// SecretKey holds raw private key bytes in memory only. The ECDSA form is
// materialised inside Use and wiped when Use returns.
type SecretKey struct {
	mu sync.Mutex
	b  []byte
}

// NewSecretKey takes ownership of b; the caller must not keep a copy.
func NewSecretKey(b []byte) *SecretKey {
	return &SecretKey{b: b}
}

// Use hands fn a freshly built ECDSA key and wipes it afterwards, also when
// fn fails or panics.
func (k *SecretKey) Use(fn func(*ecdsa.PrivateKey) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.b == nil {
		return errKeyWiped
	}
	prv, err := crypto.ToECDSA(k.b)
	if err != nil {
		return err
	}
	defer wipeECDSA(prv)
	return fn(prv)
}

// Address returns the account the key controls.
func (k *SecretKey) Address() (common.Address, error) {
	var addr common.Address
	err := k.Use(func(prv *ecdsa.PrivateKey) error {
		addr = crypto.PubkeyToAddress(prv.PublicKey)
		return nil
	})
	return addr, err
}

// Wipe zeroes the key bytes. The key is unusable afterwards.
func (k *SecretKey) Wipe() {
	k.mu.Lock()
	defer k.mu.Unlock()
	clear(k.b)
	k.b = nil
}

// Wiped reports whether Wipe has been called.
func (k *SecretKey) Wiped() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.b == nil
}

func wipeECDSA(prv *ecdsa.PrivateKey) {
	if prv == nil || prv.D == nil {
		return
	}
	clear(prv.D.Bits())
	prv.D.SetInt64(0)
}

// Bundle is the ordered, signed transaction set. It never changes after
// SignBundle and is resubmitted as is.
type Bundle struct {
	txs types.Transactions
}

// SignBundle signs every prepared transaction with key.
func SignBundle(prepared []PreparedTransaction, key *SecretKey) (*Bundle, error) {
	if len(prepared) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrSigning)
	}
	txs := make(types.Transactions, 0, len(prepared))
	err := key.Use(func(prv *ecdsa.PrivateKey) error {
		for i, p := range prepared {
			signer := types.LatestSignerForChainID(p.ChainID)
			tx, err := types.SignNewTx(prv, signer, p.txData())
			if err != nil {
				return fmt.Errorf("tx #%d (nonce %d): %w", i, p.Nonce, err)
			}
			txs = append(txs, tx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return &Bundle{txs: txs}, nil
}

// Len is the number of transactions.
func (b *Bundle) Len() int { return len(b.txs) }

// Transactions returns the signed transactions in bundle order.
func (b *Bundle) Transactions() types.Transactions {
	out := make(types.Transactions, len(b.txs))
	copy(out, b.txs)
	return out
}

// RawTransactions returns the EIP-2718 encoded transactions.
func (b *Bundle) RawTransactions() ([][]byte, error) {
	out := make([][]byte, 0, len(b.txs))
	for _, tx := range b.txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// Hashes returns the transaction hashes in bundle order.
func (b *Bundle) Hashes() []common.Hash {
	out := make([]common.Hash, 0, len(b.txs))
	for _, tx := range b.txs {
		out = append(out, tx.Hash())
	}
	return out
}
