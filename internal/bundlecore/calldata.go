package bundlecore

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmittmann/w3"
)

var bigIntType = reflect.TypeOf((*big.Int)(nil))

// BuildCalldata encodes a call of the human-readable function signature
// (e.g. "transfer(address,uint256)") with args. Args come straight from the
// config file, so they are coerced to the parameter types first: numbers may
// be given as integers or decimal/0x strings, addresses and bytes as hex.
func BuildCalldata(signature string, args []any) ([]byte, error) {
	fn, err := w3.NewFunc(strings.TrimSpace(signature), "")
	if err != nil {
		return nil, fmt.Errorf("%w: signature %q: %v", ErrEncoding, signature, err)
	}
	if len(args) != len(fn.Args) {
		return nil, fmt.Errorf("%w: %s takes %d args, got %d", ErrEncoding, fn.Signature, len(fn.Args), len(args))
	}
	vals := make([]any, len(args))
	for i, arg := range fn.Args {
		v, err := coerceArg(arg.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("%w: arg %d (%s): %v", ErrEncoding, i, arg.Type.String(), err)
		}
		vals[i] = v
	}
	data, err := fn.EncodeArgs(vals...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncoding, fn.Signature, err)
	}
	return data, nil
}

// coerceArg converts v into the Go type the abi packer expects for t.
func coerceArg(t abi.Type, v any) (any, error) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		x, err := toBigInt(v)
		if err != nil {
			return nil, err
		}
		if err := checkIntRange(x, t.T == abi.UintTy, t.Size); err != nil {
			return nil, err
		}
		typ := t.GetType()
		if typ == bigIntType {
			return x, nil
		}
		out := reflect.New(typ).Elem()
		if t.T == abi.UintTy {
			out.SetUint(x.Uint64())
		} else {
			out.SetInt(x.Int64())
		}
		return out.Interface(), nil

	case abi.AddressTy:
		switch a := v.(type) {
		case common.Address:
			return a, nil
		case string:
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("not an address: %q", a)
			}
			return common.HexToAddress(a), nil
		}

	case abi.BoolTy:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(b))
		}

	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}

	case abi.BytesTy:
		return toBytes(v)

	case abi.FixedBytesTy:
		b, err := toBytes(v)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("want %d bytes, got %d", t.Size, len(b))
		}
		out := reflect.New(t.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			break
		}
		n := rv.Len()
		var out reflect.Value
		if t.T == abi.ArrayTy {
			if n != t.Size {
				return nil, fmt.Errorf("want %d elements, got %d", t.Size, n)
			}
			out = reflect.New(t.GetType()).Elem()
		} else {
			out = reflect.MakeSlice(t.GetType(), n, n)
		}
		for i := 0; i < n; i++ {
			elem, err := coerceArg(*t.Elem, rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(elem))
		}
		return out.Interface(), nil

	default:
		return nil, fmt.Errorf("unsupported parameter type %s", t.String())
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t.String())
}

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		// TOML floats only make sense here when they are whole and exact.
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return nil, fmt.Errorf("not an exact integer: %v", n)
		}
		x, _ := big.NewFloat(n).Int(nil)
		return x, nil
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(n), nil
	case string:
		s := strings.TrimSpace(n)
		var (
			x  *big.Int
			ok bool
		)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			x, ok = new(big.Int).SetString(s[2:], 16)
		} else {
			x, ok = new(big.Int).SetString(s, 10)
		}
		if !ok {
			return nil, fmt.Errorf("not an integer: %q", n)
		}
		return x, nil
	}
	return nil, fmt.Errorf("cannot use %T as integer", v)
}

func checkIntRange(x *big.Int, unsigned bool, bits int) error {
	if unsigned {
		if x.Sign() < 0 || x.BitLen() > bits {
			return fmt.Errorf("%s out of range for uint%d", x, bits)
		}
		return nil
	}
	mag := x
	if x.Sign() < 0 {
		mag = new(big.Int).Neg(x)
		mag.Sub(mag, big.NewInt(1))
	}
	if mag.BitLen() > bits-1 {
		return fmt.Errorf("%s out of range for int%d", x, bits)
	}
	return nil
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		out, err := hexutil.Decode(strings.TrimSpace(b))
		if err != nil {
			return nil, fmt.Errorf("bad hex %q: %v", b, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot use %T as bytes", v)
}
