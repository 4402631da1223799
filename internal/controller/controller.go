package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"mortgagedapp/internal/mortgage"

	"github.com/charmbracelet/log"
	"github.com/ethereum/go-ethereum/common"
)

// Tab is the active presentation mode.
type Tab string

const (
	TabCreate Tab = "create"
	TabView   Tab = "view"
)

// EmptyListMessage is shown when the contract holds no mortgages.
const EmptyListMessage = "No mortgages found."

// State is a point-in-time copy of everything the presentation layer renders.
type State struct {
	Tab        Tab
	Amount     string
	PayAmounts map[uint64]string
	Connected  bool
	Account    common.Address
	Busy       bool
	Mortgages  []mortgage.Mortgage
	Notice     string
}

// Controller sequences user intents into gateway calls. The mortgage list it
// holds is only ever replaced by a fresh ListAll; it is never edited locally.
type Controller struct {
	gw     mortgage.Gateway
	logger *log.Logger

	mu    sync.Mutex
	state State
}

func New(gw mortgage.Gateway, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		gw:     gw,
		logger: logger.WithPrefix("controller"),
		state: State{
			Tab:        TabCreate,
			PayAmounts: make(map[uint64]string),
		},
	}
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.state
	out.PayAmounts = make(map[uint64]string, len(c.state.PayAmounts))
	for id, v := range c.state.PayAmounts {
		out.PayAmounts[id] = v
	}
	out.Mortgages = make([]mortgage.Mortgage, 0, len(c.state.Mortgages))
	for _, m := range c.state.Mortgages {
		out.Mortgages = append(out.Mortgages, m.Clone())
	}
	return out
}

func (c *Controller) SetTab(tab Tab) error {
	if tab != TabCreate && tab != TabView {
		return &InputError{Message: fmt.Sprintf("Unknown tab %q.", tab)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Tab = tab
	return nil
}

// SetAmount stores the draft value of the create form.
func (c *Controller) SetAmount(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Amount = v
}

// SetPayAmount stores the draft payment value of one row.
func (c *Controller) SetPayAmount(id uint64, v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.PayAmounts[id] = v
}

// begin moves Idle -> Busy. requireConn rejects callers that need a wallet.
// draft, if set, records form input once the busy check has passed, so a
// rejected overlapping call never touches the fields.
func (c *Controller) begin(requireConn bool, draft func(*State)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Busy {
		return ErrBusy
	}
	if draft != nil {
		draft(&c.state)
	}
	if requireConn && !c.state.Connected {
		c.state.Notice = "Connect your wallet first."
		return mortgage.ErrNotConnected
	}
	c.state.Busy = true
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Busy = false
}

// fail records err as the user-visible notice. The cached list is left as is.
func (c *Controller) fail(op, prefix string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ie *InputError
	if errors.As(err, &ie) {
		c.state.Notice = ie.Message
	} else {
		c.state.Notice = prefix + err.Error()
	}
	c.logger.Warn("operation failed", "op", op, "err", err)
	return err
}

// Connect requests wallet access and loads the list on success.
func (c *Controller) Connect(ctx context.Context) error {
	if err := c.begin(false, nil); err != nil {
		return err
	}
	defer c.end()

	conn, err := c.gw.Connect(ctx)
	if err != nil {
		return c.fail(mortgage.OpConnect, "Failed to connect wallet: ", err)
	}

	c.mu.Lock()
	c.state.Connected = true
	c.state.Account = conn.Account()
	c.state.Notice = "Connected as " + ShortAddress(conn.Account()) + "."
	c.mu.Unlock()
	c.logger.Info("wallet connected", "account", conn.Account().Hex())

	return c.reload(ctx)
}

// Refresh re-reads the full list from the contract.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.begin(true, nil); err != nil {
		return err
	}
	defer c.end()
	return c.reload(ctx)
}

// Create submits a new mortgage request for the given amount text.
func (c *Controller) Create(ctx context.Context, amountText string) error {
	if err := c.begin(true, func(st *State) { st.Amount = amountText }); err != nil {
		return err
	}
	defer c.end()

	amount, err := ParseAmount(amountText)
	if err != nil {
		return c.fail(mortgage.OpCreate, "", &InputError{Message: msgInvalidAmount, Err: err})
	}
	if err := c.gw.Create(ctx, amount); err != nil {
		return c.fail(mortgage.OpCreate, "Transaction failed: ", err)
	}

	c.mu.Lock()
	c.state.Amount = ""
	c.state.Notice = "Mortgage requested for " + amount.String() + "."
	c.mu.Unlock()
	c.logger.Info("mortgage created", "amount", amount.String())

	return c.reload(ctx)
}

// Approve approves mortgage id. The id is not checked locally.
func (c *Controller) Approve(ctx context.Context, id uint64) error {
	if err := c.begin(true, nil); err != nil {
		return err
	}
	defer c.end()

	if err := c.gw.Approve(ctx, id); err != nil {
		return c.fail(mortgage.OpApprove, "Transaction failed: ", err)
	}

	c.mu.Lock()
	c.state.Notice = fmt.Sprintf("Mortgage %d approved.", id)
	c.mu.Unlock()
	c.logger.Info("mortgage approved", "id", id)

	return c.reload(ctx)
}

// Pay records a payment of amountText toward mortgage id.
func (c *Controller) Pay(ctx context.Context, id uint64, amountText string) error {
	if err := c.begin(true, func(st *State) { st.PayAmounts[id] = amountText }); err != nil {
		return err
	}
	defer c.end()

	amount, err := ParseAmount(amountText)
	if err != nil {
		return c.fail(mortgage.OpPay, "", &InputError{Message: msgInvalidPayment, Err: err})
	}
	if err := c.gw.Pay(ctx, id, amount); err != nil {
		return c.fail(mortgage.OpPay, "Transaction failed: ", err)
	}

	c.mu.Lock()
	delete(c.state.PayAmounts, id)
	c.state.Notice = fmt.Sprintf("Paid %s toward mortgage %d.", amount.String(), id)
	c.mu.Unlock()
	c.logger.Info("payment made", "id", id, "amount", amount.String())

	return c.reload(ctx)
}

// reload replaces the cached list with a fresh ListAll. Callers hold the busy flag.
func (c *Controller) reload(ctx context.Context) error {
	list, err := c.gw.ListAll(ctx)
	if err != nil {
		return c.fail(mortgage.OpList, "Failed to load mortgages: ", err)
	}
	c.mu.Lock()
	c.state.Mortgages = list
	c.mu.Unlock()
	c.logger.Debug("mortgages loaded", "count", len(list))
	return nil
}
