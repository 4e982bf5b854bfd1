package bundlecore

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// FeePolicy holds the EIP-1559 fee parameters shared by every transaction
// of the bundle.
type FeePolicy struct {
	BaseFee               *big.Int // latest block
	BufferedBaseFee       *big.Int // BaseFee * 1.25, truncated
	NetworkMinPriorityFee *big.Int // eth_maxPriorityFeePerGas
	ConfiguredPriorityFee *big.Int
	MaxFeePerGas          *big.Int
	PriorityFeePerGas     *big.Int
}

// NewFeePolicy derives the fees from the latest header, the node's tip
// estimate and the configured tip floor:
//
//	tip    = max(configured, network)
//	maxFee = 2 * floor(1.25 * baseFee) + tip
//
// The buffer and the 2x multiplier keep the bundle valid over the whole
// multi-block retry window.
func NewFeePolicy(head *types.Header, networkTip, configuredTip *big.Int) (FeePolicy, error) {
	if head == nil || head.BaseFee == nil {
		return FeePolicy{}, ErrUnsupportedChain
	}
	if networkTip == nil {
		networkTip = new(big.Int)
	}
	if configuredTip == nil {
		configuredTip = new(big.Int)
	}
	// floor, not round: same truncation as int(base_fee * 1.25).
	buffered := new(big.Int).Mul(head.BaseFee, big.NewInt(125))
	buffered.Quo(buffered, big.NewInt(100))

	tip := new(big.Int).Set(configuredTip)
	if tip.Cmp(networkTip) < 0 {
		tip.Set(networkTip)
	}
	maxFee := new(big.Int).Mul(buffered, big.NewInt(2))
	maxFee.Add(maxFee, tip)

	return FeePolicy{
		BaseFee:               new(big.Int).Set(head.BaseFee),
		BufferedBaseFee:       buffered,
		NetworkMinPriorityFee: new(big.Int).Set(networkTip),
		ConfiguredPriorityFee: new(big.Int).Set(configuredTip),
		MaxFeePerGas:          maxFee,
		PriorityFeePerGas:     tip,
	}, nil
}

// FetchFeePolicy reads the latest header and the network tip estimate and
// derives the policy from them.
func FetchFeePolicy(ctx context.Context, ec ChainClient, configuredTip *big.Int) (FeePolicy, error) {
	head, err := ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("%w: latest header: %w", ErrRPCUnavailable, err)
	}
	if head.BaseFee == nil {
		return FeePolicy{}, fmt.Errorf("%w: block %v", ErrUnsupportedChain, head.Number)
	}
	tip, err := ec.SuggestGasTipCap(ctx)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("%w: max priority fee: %w", ErrRPCUnavailable, err)
	}
	return NewFeePolicy(head, tip, configuredTip)
}

func (f FeePolicy) String() string {
	return fmt.Sprintf("baseFee=%s gwei (buffered %s) tip=%s gwei (network %s, configured %s) maxFee=%s gwei",
		FormatGwei(f.BaseFee), FormatGwei(f.BufferedBaseFee),
		FormatGwei(f.PriorityFeePerGas), FormatGwei(f.NetworkMinPriorityFee), FormatGwei(f.ConfiguredPriorityFee),
		FormatGwei(f.MaxFeePerGas))
}
