package tui

import (
	"fmt"
	"strings"

	"mortgagedapp/internal/controller"
	"mortgagedapp/internal/mortgage"

	"github.com/charmbracelet/lipgloss"
)

var (
	cAccent  = lipgloss.Color("#7aa2f7")
	cAccent2 = lipgloss.Color("#bb9af7")
	cMuted   = lipgloss.Color("#565f89")
	cOK      = lipgloss.Color("#9ece6a")
	cWarn    = lipgloss.Color("#e0af68")

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(cAccent)
	activeTabStyle = lipgloss.NewStyle().Bold(true).Foreground(cAccent).Underline(true).Padding(0, 1)
	tabStyle       = lipgloss.NewStyle().Foreground(cMuted).Padding(0, 1)
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(cAccent2)
	selectedStyle  = lipgloss.NewStyle().Foreground(cAccent).Bold(true)
	approvedStyle  = lipgloss.NewStyle().Foreground(cOK)
	pendingStyle   = lipgloss.NewStyle().Foreground(cWarn)
	noticeStyle    = lipgloss.NewStyle().Foreground(cWarn)
	helpStyle      = lipgloss.NewStyle().Foreground(cMuted)
	panelStyle     = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(cMuted).
			Padding(0, 1)
)

func (m model) View() string {
	st := m.ctrl.Snapshot()

	account := "wallet not connected (ctrl+w to connect)"
	if st.Connected {
		account = "account " + controller.ShortAddress(st.Account)
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("Mortgage DApp"), "  ", helpStyle.Render(account))

	tabs := lipgloss.JoinHorizontal(lipgloss.Top,
		renderTab("Create Mortgage", st.Tab == controller.TabCreate),
		renderTab("View Mortgages", st.Tab == controller.TabView))

	var body string
	if st.Tab == controller.TabCreate {
		body = m.viewCreate()
	} else {
		body = m.viewList(st)
	}

	status := noticeStyle.Render(st.Notice)
	if st.Busy || m.pending > 0 {
		status = m.spin.View() + " waiting for the network..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		tabs,
		panelStyle.Render(body),
		status,
		helpStyle.Render(m.help(st)),
	)
}

func renderTab(label string, active bool) string {
	if active {
		return activeTabStyle.Render(label)
	}
	return tabStyle.Render(label)
}

func (m model) viewCreate() string {
	return m.amount.View() + "\n" + helpStyle.Render("enter to request")
}

func (m model) viewList(st controller.State) string {
	if len(st.Mortgages) == 0 {
		return controller.EmptyListMessage
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-4s %-14s %-20s %-20s %-10s", "ID", "Borrower", "Amount", "Paid", "Status")))
	b.WriteString("\n")
	for i, mg := range st.Mortgages {
		b.WriteString(m.renderRow(i, mg))
		b.WriteString("\n")
	}
	if m.paying {
		b.WriteString(m.pay.View())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) renderRow(i int, mg mortgage.Mortgage) string {
	cursor := "  "
	if i == m.selected {
		cursor = "> "
	}
	status := pendingStyle.Render(fmt.Sprintf("%-10s", "Pending"))
	action := "[a] approve"
	if mg.Approved {
		status = approvedStyle.Render(fmt.Sprintf("%-10s", "Approved"))
		action = "[p] pay"
	}
	line := fmt.Sprintf("%-4d %-14s %-20s %-20s ",
		mg.ID, controller.ShortAddress(mg.Borrower), mg.Amount.String(), mg.PaidAmount.String())
	if i == m.selected {
		return cursor + selectedStyle.Render(line) + status + " " + helpStyle.Render(action)
	}
	return cursor + line + status
}

func (m model) help(st controller.State) string {
	switch {
	case m.paying:
		return "enter pay • esc cancel"
	case st.Tab == controller.TabCreate:
		return "tab switch • ctrl+w connect • ctrl+r refresh • ctrl+c quit"
	default:
		return "tab switch • ↑/↓ select • a approve • p pay • ctrl+w connect • ctrl+r refresh • q quit"
	}
}
