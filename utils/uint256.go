package utils

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var ErrAmountOverflow = errors.New("amount overflows uint256")

// ScaleTokenAmount converts whole token units into native units:
// amount * 10^decimals, failing if the result does not fit into a uint256.
func ScaleTokenAmount(amount uint64, decimals uint8) (*big.Int, error) {
	factor := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < decimals; i++ {
		if _, overflow := factor.MulOverflow(factor, ten); overflow {
			return nil, ErrAmountOverflow
		}
	}

	native, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), factor)
	if overflow {
		return nil, ErrAmountOverflow
	}

	return native.ToBig(), nil
}
