package mortgage

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Gateway abstracts the interaction with the on-chain Mortgage contract.
type Gateway interface {
	Connect(ctx context.Context) (Connection, error)
	Create(ctx context.Context, amount *big.Int) error
	Approve(ctx context.Context, id uint64) error
	Pay(ctx context.Context, id uint64, amount *big.Int) error
	ListAll(ctx context.Context) ([]Mortgage, error)
}

// HealthChecker is implemented by gateways that can check their RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Operation names, shared by metrics, logs and the fake gateway.
const (
	OpConnect = "connect"
	OpCreate  = "create"
	OpApprove = "approve"
	OpPay     = "pay"
	OpList    = "list"
)

// Connection describes an established wallet + contract session.
type Connection struct {
	Accounts  []common.Address
	NetworkID *big.Int
	ChainID   *big.Int
	Contract  common.Address
}

// Account returns the signing account (the first one the wallet exposed).
func (c Connection) Account() common.Address {
	if len(c.Accounts) == 0 {
		return common.Address{}
	}
	return c.Accounts[0]
}

// Mortgage mirrors the contract's mortgage record. IDs start at 1.
type Mortgage struct {
	ID         uint64
	Borrower   common.Address
	Amount     *big.Int
	PaidAmount *big.Int
	Approved   bool
}

// Clone returns a copy that shares no big.Int with m.
func (m Mortgage) Clone() Mortgage {
	out := m
	out.Amount = cloneInt(m.Amount)
	out.PaidAmount = cloneInt(m.PaidAmount)
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
