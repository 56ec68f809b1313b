package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nao1215/keyharvest/internal/account"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/spf13/cobra"
)

// NewAccountCmd creates the account command group.
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage crawl accounts",
		Long: `Manage the accounts that run browser sessions.

Each account owns a browser profile directory with its login cookies, a
fingerprint preset and either a fixed proxy or any proxy from the pool.
Accounts move between ok, cooldown, captcha, banned, disabled and error
while crawling; 'account reset' returns one to ok and 'account solved'
returns a captcha account to ok once the challenge was solved by hand.`,
	}
	cmd.AddCommand(newAccountListCmd())
	cmd.AddCommand(newAccountAddCmd())
	cmd.AddCommand(newAccountResetCmd())
	cmd.AddCommand(newAccountSolvedCmd())
	cmd.AddCommand(newAccountDisableCmd())
	cmd.AddCommand(newAccountRemoveCmd())
	return cmd
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.dir.Refresh()
			return printAccounts(cmd.OutOrStdout(), a.dir.List(), a.pool.CanResolve, time.Now())
		},
	}
}

// printAccounts writes accounts as an aligned table. ELIGIBLE combines the
// status with the availability of a proxy.
func printAccounts(w io.Writer, accounts []model.AccountRecord, canResolve func(model.AccountRecord) bool, now time.Time) error {
	if len(accounts) == 0 {
		_, err := fmt.Fprintln(w, "No accounts registered. Use 'keyharvest account add' to add one.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOGIN\tSTATUS\tELIGIBLE\tPROXY\tPRESET\tSLOT\tDETAIL")
	for _, acc := range accounts {
		eligible := "no"
		if account.IsEligible(acc, now) && canResolve(acc) {
			eligible = "yes"
		}
		proxy := string(acc.Strategy())
		if acc.Strategy() == model.StrategyFixed {
			proxy = acc.ProxyID
		}
		preset := acc.Fingerprint.Preset
		if preset == "" {
			preset = "default"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			acc.ID, acc.Login, acc.Status, eligible, proxy, preset, acc.Slot(), accountDetail(acc, now))
	}
	return tw.Flush()
}

func accountDetail(acc model.AccountRecord, now time.Time) string {
	switch acc.Status {
	case model.StatusCooldown:
		if now.Before(acc.CooldownUntil) {
			return "until " + acc.CooldownUntil.Local().Format(time.DateTime)
		}
		return "cooldown over"
	case model.StatusCaptcha, model.StatusBanned:
		return fmt.Sprintf("%d captchas", acc.CaptchaTries)
	case model.StatusError:
		return truncate(acc.LastError, 60)
	}
	return "-"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func newAccountAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id> <login>",
		Short: "Register an account",
		Long: `Add registers an account, or updates it if the id exists.

The browser profile directory defaults to <data dir>/profiles/<id>. Log in
once with 'keyharvest crawl --headful' so the session cookies are saved
to the active slot.

Examples:
  keyharvest account add acc1 user@example.com --proxy 3f2a...
  keyharvest account add acc2 other@example.com --strategy rotate --preset kazakhstan_standard`,
		Args: cobra.ExactArgs(2),
		RunE: runAccountAddCmd,
	}
	cmd.Flags().String("profile-dir", "", "Browser profile directory (default: data dir/profiles/<id>)")
	cmd.Flags().String("proxy", "", "Id of the fixed proxy")
	cmd.Flags().String("strategy", "", "Proxy strategy: fixed or rotate (default: fixed with --proxy, else rotate)")
	cmd.Flags().String("preset", "", "Fingerprint preset (default: config default preset)")
	cmd.Flags().String("slot", "", "Active cookie slot (default: default)")
	cmd.Flags().String("notes", "", "Free-form notes")
	return cmd
}

func runAccountAddCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	acc, ok := a.dir.Get(args[0])
	if !ok {
		acc = model.AccountRecord{ID: args[0]}
	}
	acc.Login = args[1]

	flags := cmd.Flags()
	if v, _ := flags.GetString("profile-dir"); v != "" {
		acc.ProfileDir = v
	}
	if v, _ := flags.GetString("proxy"); v != "" {
		if _, ok := a.pool.Get(v); !ok {
			return fmt.Errorf("unknown proxy %s (see 'keyharvest proxy list')", v)
		}
		acc.ProxyID = v
	}
	if v, _ := flags.GetString("strategy"); v != "" {
		switch s := model.ProxyStrategy(v); s {
		case model.StrategyFixed, model.StrategyRotate:
			acc.ProxyStrategy = s
		default:
			return fmt.Errorf("unknown proxy strategy %q", v)
		}
	}
	if acc.ProxyStrategy == model.StrategyFixed && acc.ProxyID == "" {
		return errors.New("the fixed proxy strategy needs --proxy")
	}
	if v, _ := flags.GetString("preset"); v != "" {
		if _, ok := a.resolver.Lookup(v); !ok {
			return fmt.Errorf("unknown fingerprint preset %q (known: %v)", v, a.resolver.Names())
		}
		acc.Fingerprint.Preset = v
	}
	if v, _ := flags.GetString("slot"); v != "" {
		acc.ActiveSlot = v
	}
	if v, _ := flags.GetString("notes"); v != "" {
		acc.Notes = v
	}

	stored, err := a.addAccount(ctx, acc)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved account %s (%s), profile %s\n", stored.ID, stored.Status, stored.ProfileDir)
	return nil
}

// newAccountActionCmd builds a command applying a directory operation to
// one account. The change hook persists the result.
func newAccountActionCmd(use, short, verb string, action func(*account.Directory, string) (model.AccountRecord, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			acc, err := action(a.dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s account %s, status %s\n", verb, acc.ID, acc.Status)
			return nil
		},
	}
}

func newAccountResetCmd() *cobra.Command {
	return newAccountActionCmd("reset", "Return an account to ok and clear its counters", "Reset",
		(*account.Directory).Reset)
}

func newAccountSolvedCmd() *cobra.Command {
	return newAccountActionCmd("solved", "Mark the captcha of an account as solved", "Solved",
		(*account.Directory).MarkCaptchaSolved)
}

func newAccountDisableCmd() *cobra.Command {
	return newAccountActionCmd("disable", "Switch an account off", "Disabled",
		(*account.Directory).Disable)
}

func newAccountRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an account; its profile directory is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.dir.Remove(args[0]) {
				return fmt.Errorf("%w: %s", account.ErrUnknownAccount, args[0])
			}
			if err := a.store.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed account %s\n", args[0])
			return nil
		},
	}
}
