package bundlecore

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransactionSpec is one configured call of the bundle. Order matters: it
// defines the nonce order.
type TransactionSpec struct {
	To                string // recipient, hex
	FunctionSignature string // e.g. "mint(uint256)"
	Value             string // "<amount> <unit>", e.g. "0.05 ether"
	Args              []any
	GasLimit          uint64
}

// PreparedTransaction is a fully specified, unsigned EIP-1559 transaction.
type PreparedTransaction struct {
	To                common.Address
	Data              []byte
	Value             *big.Int
	GasLimit          uint64
	MaxFeePerGas      *big.Int
	PriorityFeePerGas *big.Int
	Nonce             uint64
	ChainID           *big.Int
}

func (p PreparedTransaction) txData() *types.DynamicFeeTx {
	to := p.To
	return &types.DynamicFeeTx{
		ChainID:   new(big.Int).Set(p.ChainID),
		Nonce:     p.Nonce,
		Gas:       p.GasLimit,
		GasTipCap: new(big.Int).Set(p.PriorityFeePerGas),
		GasFeeCap: new(big.Int).Set(p.MaxFeePerGas),
		To:        &to,
		Value:     new(big.Int).Set(p.Value),
		Data:      common.CopyBytes(p.Data),
	}
}

// Assemble turns the specs into nonce-sequenced transactions starting at
// startNonce. It does no I/O.
func Assemble(specs []TransactionSpec, fees FeePolicy, startNonce uint64, chainID *big.Int) ([]PreparedTransaction, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id is nil")
	}
	if fees.MaxFeePerGas == nil || fees.PriorityFeePerGas == nil {
		return nil, fmt.Errorf("fee policy is empty")
	}
	out := make([]PreparedTransaction, 0, len(specs))
	for i, spec := range specs {
		to, err := ParseAddress(spec.To)
		if err != nil {
			return nil, &SpecError{Index: i, Err: err}
		}
		data, err := BuildCalldata(spec.FunctionSignature, spec.Args)
		if err != nil {
			return nil, &SpecError{Index: i, Err: err}
		}
		value, err := ParseValue(spec.Value)
		if err != nil {
			return nil, &SpecError{Index: i, Err: err}
		}
		out = append(out, PreparedTransaction{
			To:                to,
			Data:              data,
			Value:             value,
			GasLimit:          spec.GasLimit,
			MaxFeePerGas:      new(big.Int).Set(fees.MaxFeePerGas),
			PriorityFeePerGas: new(big.Int).Set(fees.PriorityFeePerGas),
			Nonce:             startNonce + uint64(i),
			ChainID:           new(big.Int).Set(chainID),
		})
	}
	return out, nil
}

// ParseAddress accepts a 0x-prefixed hex address. Mixed-case input must
// carry a valid EIP-55 checksum; all-lower and all-upper input is taken as is.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != s {
		return common.Address{}, fmt.Errorf("%w: %q: bad checksum", ErrInvalidAddress, s)
	}
	return addr, nil
}
