package bundlecore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

const defaultPollInterval = 300 * time.Millisecond

// Attempt is one submission of the bundle for one target block. It is
// resolved exactly once by Await.
type Attempt struct {
	TargetBlock uint64
	BundleHash  common.Hash
	Err         error // submission error; a failed attempt is never polled

	chain  ChainClient
	hashes []common.Hash
	poll   time.Duration
	log    log.Logger
}

// Inclusion records where the bundle landed.
type Inclusion struct {
	TargetBlock uint64
	BlockNumber uint64
	TxHashes    []common.Hash
	Receipts    []*types.Receipt
}

// Await blocks until the target block is mined, then looks up a receipt for
// every bundle transaction. ErrBundleNotFound means the block passed without
// the bundle.
func (a *Attempt) Await(ctx context.Context) (*Inclusion, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	if err := a.waitForBlock(ctx); err != nil {
		return nil, err
	}
	receipts := make([]*types.Receipt, 0, len(a.hashes))
	for _, h := range a.hashes {
		rcpt, err := a.chain.TransactionReceipt(ctx, h)
		if errors.Is(err, ethereum.NotFound) || (err == nil && rcpt == nil) {
			return nil, fmt.Errorf("%w: target %d, tx %s", ErrBundleNotFound, a.TargetBlock, h.Hex())
		}
		if err != nil {
			return nil, fmt.Errorf("%w: receipt %s: %w", ErrRPCUnavailable, h.Hex(), err)
		}
		receipts = append(receipts, rcpt)
	}
	inc := &Inclusion{TargetBlock: a.TargetBlock}
	for _, r := range receipts {
		inc.TxHashes = append(inc.TxHashes, r.TxHash)
	}
	if len(receipts) > 0 && receipts[0].BlockNumber != nil {
		inc.BlockNumber = receipts[0].BlockNumber.Uint64()
	}
	inc.Receipts = receipts
	return inc, nil
}

// waitForBlock polls the head until it reaches the target. Head read errors
// are retried on the next tick.
func (a *Attempt) waitForBlock(ctx context.Context) error {
	poll := a.poll
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		head, err := a.chain.BlockNumber(ctx)
		if err == nil && head >= a.TargetBlock {
			return nil
		}
		if err != nil && a.log != nil {
			a.log.Debug("Head poll failed", "target", a.TargetBlock, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
