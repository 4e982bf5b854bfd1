package bundlecore

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFeePolicy(t *testing.T) {
	tests := []struct {
		name                           string
		baseFee, network, configured   int64
		wantBuffered, wantTip, wantMax int64
	}{
		{"configured wins", 10_000_000_000, 1_000_000_000, 2_000_000_000, 12_500_000_000, 2_000_000_000, 27_000_000_000},
		{"network wins", 10_000_000_000, 3_000_000_000, 2_000_000_000, 12_500_000_000, 3_000_000_000, 28_000_000_000},
		{"buffer truncates", 7, 0, 0, 8, 0, 16},
		{"zero base fee", 0, 5, 1, 0, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head := &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(tt.baseFee)}
			f, err := NewFeePolicy(head, big.NewInt(tt.network), big.NewInt(tt.configured))
			require.NoError(t, err)
			assert.Equal(t, tt.wantBuffered, f.BufferedBaseFee.Int64())
			assert.Equal(t, tt.wantTip, f.PriorityFeePerGas.Int64())
			assert.Equal(t, tt.wantMax, f.MaxFeePerGas.Int64())

			// maxFee covers a doubled buffered base fee on top of the tip.
			floor := new(big.Int).Add(new(big.Int).Mul(f.BufferedBaseFee, big.NewInt(2)), f.PriorityFeePerGas)
			assert.Equal(t, 0, f.MaxFeePerGas.Cmp(floor))
			assert.GreaterOrEqual(t, f.PriorityFeePerGas.Cmp(f.NetworkMinPriorityFee), 0)
			assert.GreaterOrEqual(t, f.PriorityFeePerGas.Cmp(f.ConfiguredPriorityFee), 0)
			assert.GreaterOrEqual(t, f.MaxFeePerGas.Cmp(f.PriorityFeePerGas), 0)
		})
	}
}

func TestNewFeePolicyLegacyChain(t *testing.T) {
	_, err := NewFeePolicy(&types.Header{Number: big.NewInt(1)}, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrUnsupportedChain)
}

func TestNewFeePolicyDoesNotAlias(t *testing.T) {
	configured := big.NewInt(5)
	head := &types.Header{BaseFee: big.NewInt(100)}
	f, err := NewFeePolicy(head, nil, configured)
	require.NoError(t, err)
	f.PriorityFeePerGas.SetInt64(99)
	assert.Equal(t, int64(5), configured.Int64())
	assert.Equal(t, int64(100), head.BaseFee.Int64())
}

func TestFetchFeePolicy(t *testing.T) {
	chain := newFakeChain(&eventLog{}, 10)
	f, err := FetchFeePolicy(context.Background(), chain, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, chain.tip.Int64(), f.PriorityFeePerGas.Int64())
	assert.Contains(t, f.String(), "maxFee=26.00 gwei")
}
