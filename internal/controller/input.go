package controller

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrBusy         = errors.New("another operation is in progress")
)

const (
	msgInvalidAmount  = "Enter a valid amount!"
	msgInvalidPayment = "Enter a valid payment amount!"
)

// InputError is a local validation failure. Message is what the user sees.
type InputError struct {
	Message string
	Err     error
}

func (e *InputError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + " (" + e.Err.Error() + ")"
}

func (e *InputError) Unwrap() error { return e.Err }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

const (
	// uint256 max has 78 decimal digits.
	maxAmountDigits = 78
	maxAmountLength = 100
)

// ParseAmount accepts a positive whole number written in decimal notation that
// fits the contract's uint256.
func ParseAmount(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, errors.New("amount is required")
	}
	if len(s) > maxAmountLength {
		return nil, errors.New("amount is too long")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", s)
	}
	if !d.IsPositive() {
		return nil, errors.New("amount must be greater than 0")
	}
	// Checked before BigInt, which expands the exponent in full.
	if d.Exponent() > maxAmountDigits {
		return nil, errors.New("amount does not fit 256 bits")
	}
	if !d.IsInteger() {
		return nil, errors.New("amount must be a whole number")
	}
	v := d.BigInt()
	if v.BitLen() > 256 {
		return nil, errors.New("amount does not fit 256 bits")
	}
	return v, nil
}

// ShortAddress renders an address as 0x1234...abcd.
func ShortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
