package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"mortgagedapp/internal/app"
	"mortgagedapp/internal/config"
	"mortgagedapp/internal/controller"
	"mortgagedapp/internal/logging"
	"mortgagedapp/internal/mortgage"
	"mortgagedapp/internal/tui"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

type gatewayFactory func(*config.AppConfig, *log.Logger) (mortgage.Gateway, func(), error)

type cli struct {
	loadConfig   func() (*config.AppConfig, error)
	buildGateway gatewayFactory

	cfg     *config.AppConfig
	logger  *log.Logger
	demo    bool
	logFile string
}

func newCLI() *cli {
	return &cli{
		loadConfig:   config.Load,
		buildGateway: app.BuildGateway,
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mortgagectl",
		Short:         "request, approve and pay mortgages on the Mortgage contract",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if c.demo {
				cfg.Service.Demo = true
			}
			c.cfg = cfg
			c.logger = logging.New(cmd.ErrOrStderr(), cfg.Log)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&c.demo, "demo", false, "use the in-memory contract instead of an RPC node")

	root.AddCommand(c.tuiCommand())
	root.AddCommand(c.listCommand())
	root.AddCommand(c.createCommand())
	root.AddCommand(c.approveCommand())
	root.AddCommand(c.payCommand())
	root.AddCommand(c.accountsCommand())

	return root
}

func (c *cli) tuiCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "open the interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			// The screen belongs to the UI; logs go to the file.
			c.logger = logging.New(f, c.cfg.Log)

			gw, closeGateway, err := c.buildGateway(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer closeGateway()
			return tui.Run(cmd.Context(), controller.New(gw, c.logger))
		},
	}
	cmd.Flags().StringVar(&c.logFile, "log-file", "mortgagectl.log", "file that receives logs while the UI is open")
	return cmd
}

func (c *cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list every mortgage on the contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withController(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				return nil
			})
		},
	}
}

func (c *cli) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create [amount]",
		Short: "request a new mortgage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withController(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				return ctrl.Create(ctx, args[0])
			})
		},
	}
}

func (c *cli) approveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [id]",
		Short: "approve a mortgage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withController(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				return ctrl.Approve(ctx, id)
			})
		},
	}
}

func (c *cli) payCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pay [id] [amount]",
		Short: "pay toward an approved mortgage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withController(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				return ctrl.Pay(ctx, id, args[1])
			})
		},
	}
}

func (c *cli) accountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "print the accounts the configured wallet exposes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.Chain.HasWallet() {
				return fmt.Errorf("%w: set CHAIN_PRIVATE_KEY or KEYSTORE_DIR", mortgage.ErrWalletUnavailable)
			}
			wallet, err := app.BuildWallet(c.cfg.Chain)
			if err != nil {
				return err
			}
			accts, err := wallet.RequestAccounts(cmd.Context())
			if err != nil {
				return fmt.Errorf("%w: %w", mortgage.ErrWalletUnavailable, err)
			}
			for _, a := range accts {
				fmt.Fprintln(cmd.OutOrStdout(), a.Hex())
			}
			return nil
		},
	}
}

// withController connects, runs fn and prints the resulting notice and list.
func (c *cli) withController(cmd *cobra.Command, fn func(context.Context, *controller.Controller) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gw, closeGateway, err := c.buildGateway(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	ctrl := controller.New(gw, c.logger)
	if err := ctrl.Connect(ctx); err != nil {
		return err
	}
	err = fn(ctx, ctrl)

	st := ctrl.Snapshot()
	out := cmd.OutOrStdout()
	if st.Notice != "" {
		fmt.Fprintln(out, st.Notice)
	}
	if err == nil {
		printMortgages(out, st.Mortgages)
	}
	return err
}

func printMortgages(w io.Writer, list []mortgage.Mortgage) {
	if len(list) == 0 {
		fmt.Fprintln(w, controller.EmptyListMessage)
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "BORROWER", "AMOUNT", "PAID", "STATUS")
	for _, m := range list {
		status := "Pending"
		if m.Approved {
			status = "Approved"
		}
		t.Row(strconv.FormatUint(m.ID, 10), m.Borrower.Hex(), m.Amount.String(), m.PaidAmount.String(), status)
	}
	fmt.Fprintln(w, t.Render())
}

func parseID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &controller.InputError{Message: "Invalid mortgage id.", Err: err}
	}
	return id, nil
}
