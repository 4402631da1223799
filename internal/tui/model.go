// Package tui is the terminal front end over the controller.
package tui

import (
	"context"

	"mortgagedapp/internal/controller"
	"mortgagedapp/internal/mortgage"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// actionDoneMsg reports a settled controller operation. The state itself is
// always read back from the controller.
type actionDoneMsg struct {
	op  string
	err error
}

type model struct {
	ctx  context.Context
	ctrl *controller.Controller

	w, h int

	amount textinput.Model
	pay    textinput.Model
	paying bool
	spin   spinner.Model
	// pending counts dispatched actions whose actionDoneMsg has not arrived.
	pending int

	selected int
}

func newModel(ctx context.Context, ctrl *controller.Controller) model {
	amount := textinput.New()
	amount.Placeholder = "Amount"
	amount.Prompt = "Amount: "
	amount.PromptStyle = lipgloss.NewStyle().Foreground(cAccent)
	amount.CharLimit = 78
	amount.Width = 40
	amount.Focus()

	pay := textinput.New()
	pay.Placeholder = "Pay"
	pay.Prompt = "Pay: "
	pay.PromptStyle = lipgloss.NewStyle().Foreground(cAccent)
	pay.CharLimit = 78
	pay.Width = 30

	sp := spinner.New()
	sp.Spinner = spinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(cAccent2)

	return model{
		ctx:    ctx,
		ctrl:   ctrl,
		amount: amount,
		pay:    pay,
		spin:   sp,
	}
}

// Run starts the full-screen program and blocks until the user quits.
func Run(ctx context.Context, ctrl *controller.Controller) error {
	_, err := tea.NewProgram(newModel(ctx, ctrl), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// run executes fn off the update loop and spins while it is in flight.
func (m *model) run(op string, fn func(context.Context) error) tea.Cmd {
	m.pending++
	ctx := m.ctx
	return tea.Batch(func() tea.Msg {
		return actionDoneMsg{op: op, err: fn(ctx)}
	}, m.spin.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.w, m.h = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		// The action may not have marked the controller busy yet, so the
		// pending count keeps the tick alive too.
		if m.pending == 0 && !m.ctrl.Snapshot().Busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case actionDoneMsg:
		if m.pending > 0 {
			m.pending--
		}
		st := m.ctrl.Snapshot()
		if msg.err == nil {
			switch msg.op {
			case mortgage.OpCreate:
				m.amount.SetValue(st.Amount)
			case mortgage.OpPay:
				m.paying = false
				m.pay.Blur()
				m.pay.SetValue("")
			}
		}
		m.clampSelection(len(st.Mortgages))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	st := m.ctrl.Snapshot()

	if m.paying {
		return m.handlePayKey(msg, st)
	}

	switch msg.String() {
	case "tab", "shift+tab":
		next := controller.TabView
		if st.Tab == controller.TabView {
			next = controller.TabCreate
		}
		_ = m.ctrl.SetTab(next)
		if next == controller.TabCreate {
			m.amount.Focus()
		} else {
			m.amount.Blur()
		}
		return m, nil
	case "ctrl+w":
		cmd := m.run(mortgage.OpConnect, m.ctrl.Connect)
		return m, cmd
	case "ctrl+r":
		cmd := m.run(mortgage.OpList, m.ctrl.Refresh)
		return m, cmd
	}

	if st.Tab == controller.TabCreate {
		if msg.String() == "enter" {
			text := m.amount.Value()
			cmd := m.run(mortgage.OpCreate, func(ctx context.Context) error {
				return m.ctrl.Create(ctx, text)
			})
			return m, cmd
		}
		var cmd tea.Cmd
		m.amount, cmd = m.amount.Update(msg)
		m.ctrl.SetAmount(m.amount.Value())
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(st.Mortgages)-1 {
			m.selected++
		}
	case "a":
		if row, ok := m.row(st); ok && !row.Approved {
			id := row.ID
			cmd := m.run(mortgage.OpApprove, func(ctx context.Context) error {
				return m.ctrl.Approve(ctx, id)
			})
			return m, cmd
		}
	case "p", "enter":
		if row, ok := m.row(st); ok && row.Approved {
			m.paying = true
			m.pay.SetValue(st.PayAmounts[row.ID])
			return m, m.pay.Focus()
		}
	}
	return m, nil
}

func (m model) handlePayKey(msg tea.KeyMsg, st controller.State) (tea.Model, tea.Cmd) {
	row, ok := m.row(st)
	if !ok {
		m.paying = false
		m.pay.Blur()
		return m, nil
	}
	switch msg.String() {
	case "esc":
		m.paying = false
		m.pay.Blur()
		return m, nil
	case "enter":
		id, text := row.ID, m.pay.Value()
		cmd := m.run(mortgage.OpPay, func(ctx context.Context) error {
			return m.ctrl.Pay(ctx, id, text)
		})
		return m, cmd
	}
	var cmd tea.Cmd
	m.pay, cmd = m.pay.Update(msg)
	m.ctrl.SetPayAmount(row.ID, m.pay.Value())
	return m, cmd
}

func (m model) row(st controller.State) (mortgage.Mortgage, bool) {
	if m.selected < 0 || m.selected >= len(st.Mortgages) {
		return mortgage.Mortgage{}, false
	}
	return st.Mortgages[m.selected], true
}

func (m *model) clampSelection(n int) {
	if m.selected >= n {
		m.selected = n - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}
