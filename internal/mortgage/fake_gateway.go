package mortgage

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultFakeAccount is the account a FakeGateway exposes when none is given.
var DefaultFakeAccount = common.HexToAddress("0x00000000000000000000000000000000000f4ce1")

// FakeGateway emulates the Mortgage contract in memory. It backs tests and the
// demo mode of the binaries.
type FakeGateway struct {
	mu        sync.Mutex
	accounts  []common.Address
	noWallet  bool
	networkID *big.Int
	connected bool
	mortgages []Mortgage
	calls     map[string]int
	failures  map[string][]error
}

func NewFakeGateway(accounts ...common.Address) *FakeGateway {
	if len(accounts) == 0 {
		accounts = []common.Address{DefaultFakeAccount}
	}
	return &FakeGateway{
		accounts:  accounts,
		networkID: big.NewInt(5777),
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
	}
}

// NewUnavailableFakeGateway behaves like an environment without a wallet.
func NewUnavailableFakeGateway() *FakeGateway {
	f := NewFakeGateway()
	f.noWallet = true
	return f
}

// FailNext queues err as the result of the next call to op.
func (f *FakeGateway) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Calls reports how many times op reached the gateway.
func (f *FakeGateway) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls reports the number of gateway calls across all operations.
func (f *FakeGateway) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// enter records the call and pops a queued failure. Callers hold f.mu.
func (f *FakeGateway) enter(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		err := q[0]
		f.failures[op] = q[1:]
		return err
	}
	if op != OpConnect && !f.connected {
		return ErrNotConnected
	}
	return nil
}

func (f *FakeGateway) Connect(_ context.Context) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpConnect); err != nil {
		return Connection{}, err
	}
	if f.noWallet {
		return Connection{}, fmt.Errorf("%w: no wallet configured", ErrWalletUnavailable)
	}
	f.connected = true
	return Connection{
		Accounts:  append([]common.Address(nil), f.accounts...),
		NetworkID: new(big.Int).Set(f.networkID),
		ChainID:   new(big.Int).Set(f.networkID),
		Contract:  common.HexToAddress("0x000000000000000000000000000000000000c0de"),
	}, nil
}

func (f *FakeGateway) Create(_ context.Context, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreate); err != nil {
		return err
	}
	if err := checkUint256("createMortgage", amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("%w: createMortgage: amount must be positive", ErrContractError)
	}
	f.mortgages = append(f.mortgages, Mortgage{
		ID:         uint64(len(f.mortgages) + 1),
		Borrower:   f.accounts[0],
		Amount:     new(big.Int).Set(amount),
		PaidAmount: new(big.Int),
	})
	return nil
}

func (f *FakeGateway) Approve(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpApprove); err != nil {
		return err
	}
	m, err := f.lookup("approveMortgage", id)
	if err != nil {
		return err
	}
	m.Approved = true
	return nil
}

func (f *FakeGateway) Pay(_ context.Context, id uint64, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpPay); err != nil {
		return err
	}
	m, err := f.lookup("makePayment", id)
	if err != nil {
		return err
	}
	if !m.Approved {
		return fmt.Errorf("%w: makePayment: mortgage %d not approved", ErrContractError, id)
	}
	if err := checkUint256("makePayment", amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("%w: makePayment: amount must be positive", ErrContractError)
	}
	m.PaidAmount = new(big.Int).Add(m.PaidAmount, amount)
	return nil
}

func (f *FakeGateway) lookup(method string, id uint64) (*Mortgage, error) {
	if id == 0 || id > uint64(len(f.mortgages)) {
		return nil, fmt.Errorf("%w: %s: mortgage %d does not exist", ErrContractError, method, id)
	}
	return &f.mortgages[id-1], nil
}

func (f *FakeGateway) ListAll(_ context.Context) ([]Mortgage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpList); err != nil {
		return nil, err
	}
	out := make([]Mortgage, 0, len(f.mortgages))
	for _, m := range f.mortgages {
		out = append(out, m.Clone())
	}
	return out, nil
}

// Ping reports ErrNotConnected until Connect succeeds.
func (f *FakeGateway) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	return nil
}
