package bundlecore

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// Decimal exponents of the ether denominations accepted in "<amount> <unit>".
var unitDecimals = map[string]int{
	"wei":  0,
	"kwei": 3, "babbage": 3, "femtoether": 3,
	"mwei": 6, "lovelace": 6, "picoether": 6,
	"gwei": 9, "shannon": 9, "nanoether": 9, "nano": 9,
	"szabo": 12, "microether": 12, "micro": 12,
	"finney": 15, "milliether": 15, "milli": 15,
	"ether":  18,
	"kether": 21, "grand": 21,
	"mether": 24,
	"gether": 27,
	"tether": 30,
}

// ParseValue parses a config value such as "1.5 ether" or "0 wei" into wei.
func ParseValue(s string) (*big.Int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: %q: want \"<amount> <unit>\"", ErrValueFormat, s)
	}
	dec, ok := unitDecimals[strings.ToLower(fields[1])]
	if !ok {
		return nil, fmt.Errorf("%w: %q: unknown unit %q", ErrValueFormat, s, fields[1])
	}
	wei, err := toWei(fields[0], dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrValueFormat, s, err)
	}
	return wei, nil
}

// GweiToWei converts a decimal gwei amount (e.g. "1.5") to wei.
func GweiToWei(amount string) (*big.Int, error) {
	wei, err := toWei(strings.TrimSpace(amount), 9)
	if err != nil {
		return nil, fmt.Errorf("%w: %q gwei: %v", ErrValueFormat, amount, err)
	}
	return wei, nil
}

// toWei scales a non-negative decimal string by 10^decimals without going
// through floats.
func toWei(amount string, decimals int) (*big.Int, error) {
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("negative amount")
	}
	amount = strings.TrimPrefix(amount, "+")
	intPart, fracPart, _ := strings.Cut(amount, ".")
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("not a decimal")
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return nil, fmt.Errorf("not a decimal")
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("more than %d fractional digits", decimals)
	}
	digits := intPart + fracPart + strings.Repeat("0", decimals-len(fracPart))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal")
	}
	if _, overflow := uint256.FromBig(wei); overflow {
		return nil, fmt.Errorf("exceeds 256 bits")
	}
	return wei, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FormatGwei renders wei as gwei with two decimals.
func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(x, big.NewInt(params.GWei)).FloatString(2)
}

// FormatETH renders wei as ether with six decimals.
func FormatETH(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return new(big.Rat).SetFrac(x, big.NewInt(params.Ether)).FloatString(6)
}
