package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nao1215/keyharvest/internal/log"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/proxypool"
	"github.com/spf13/cobra"
)

// NewProxyCmd creates the proxy command group.
func NewProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Manage the proxy pool",
		Long: `Manage the proxies the browser sessions connect through.

Proxies that fail the health check several times in a row are removed
and blacklisted, so importing them again has no effect.`,
	}
	cmd.AddCommand(newProxyImportCmd())
	cmd.AddCommand(newProxyListCmd())
	cmd.AddCommand(newProxyTestCmd())
	cmd.AddCommand(newProxyRemoveCmd())
	return cmd
}

func newProxyImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import proxies from a file or stdin",
		Long: `Import reads one proxy per line in any of these formats:

  ip:port
  user:pass@ip:port
  protocol://[user:pass@]ip:port

Empty lines and lines starting with # are skipped, as are proxies already
registered or blacklisted.

Examples:
  keyharvest proxy import proxies.txt --geo RU --provider acme
  cat proxies.txt | keyharvest proxy import --protocol socks5`,
		Args: cobra.MaximumNArgs(1),
		RunE: runProxyImportCmd,
	}
	cmd.Flags().String("protocol", "", "Protocol of lines without a scheme: http, https or socks5 (default http)")
	cmd.Flags().String("geo", "", "Country code the proxies exit in")
	cmd.Flags().String("provider", "", "Provider name stored with the proxies")
	cmd.Flags().Int("max-concurrent", model.DefaultProxyMaxConcurrent, "Browser sessions allowed per proxy")
	return cmd
}

func runProxyImportCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.close()

	opts := proxypool.ImportOptions{}
	protocol, _ := cmd.Flags().GetString("protocol")
	if protocol != "" {
		if opts.Protocol, err = model.ParseProxyProtocol(protocol); err != nil {
			return err
		}
	}
	opts.Geo, _ = cmd.Flags().GetString("geo")
	opts.Provider, _ = cmd.Flags().GetString("provider")
	opts.MaxConcurrent, _ = cmd.Flags().GetInt("max-concurrent")

	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0]) //nolint:gosec // User-provided proxy list is intentional
		if err != nil {
			return fmt.Errorf("failed to open proxy list: %w", err)
		}
		defer f.Close()
		r = f
	}

	rep, err := a.importProxies(cmd.Context(), r, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d proxies (%d duplicates, %d blacklisted, %d invalid)\n",
		len(rep.Added), rep.Duplicates, rep.Blacklisted, len(rep.Invalid))
	for _, line := range rep.Invalid {
		fmt.Fprintf(out, "  invalid: %s\n", maskProxyLine(line))
	}
	return nil
}

func newProxyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered proxies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return printProxies(cmd.OutOrStdout(), a.pool.List(), time.Now())
		},
	}
}

// printProxies writes proxies as an aligned table. Credentials are never printed.
func printProxies(w io.Writer, proxies []model.ProxyRecord, now time.Time) error {
	if len(proxies) == 0 {
		_, err := fmt.Fprintln(w, "No proxies registered. Use 'keyharvest proxy import' to add some.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERVER\tAUTH\tGEO\tMAX\tSTATE\tEXIT IP\tLAST CHECK")
	for _, p := range proxies {
		state := "enabled"
		switch {
		case !p.Enabled:
			state = "disabled"
		case p.Expired(now):
			state = "expired"
		}
		auth := "-"
		if p.HasCredentials() {
			auth = "yes"
		}
		checked := "never"
		if !p.LastCheck.IsZero() {
			checked = p.LastCheck.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			p.ID, p.ServerURL(), auth, orDash(p.Geo), p.MaxConcurrent, state, orDash(p.LastIP), checked)
	}
	return tw.Flush()
}

func newProxyTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [id...]",
		Short: "Health check proxies",
		Long: `Test fetches the echo endpoint through each proxy and records its exit IP.
Without ids every registered proxy is tested.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var results []proxypool.HealthResult
			if len(args) == 0 {
				if results, err = a.pool.Sweep(ctx, a.cfg.HealthConcurrency); err != nil {
					return err
				}
			} else {
				for _, id := range args {
					res, err := a.pool.Test(ctx, id)
					if err != nil {
						return err
					}
					results = append(results, res)
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tRESULT\tEXIT IP\tLATENCY")
			failed := 0
			for _, res := range results {
				a.saveProxyState(ctx, res)
				result := "ok"
				switch {
				case res.Removed:
					result = "blacklisted: " + log.MaskURLCredentials(res.Err.Error())
				case res.Err != nil:
					result = "failed: " + log.MaskURLCredentials(res.Err.Error())
				}
				if !res.OK() {
					failed++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.ProxyID, result, orDash(res.ExitIP), res.Latency.Round(time.Millisecond))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d proxies failed the health check", failed, len(results))
			}
			return nil
		},
	}
}

func newProxyRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if !a.pool.Delete(args[0]) {
				return fmt.Errorf("%w: %s", proxypool.ErrUnknownProxy, args[0])
			}
			if err := a.store.DeleteProxy(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed proxy %s\n", args[0])
			return nil
		},
	}
}

// maskProxyLine hides the credentials of a proxy list line that may not
// parse as a URL.
func maskProxyLine(line string) string {
	if strings.Contains(line, "://") {
		return log.MaskURLCredentials(line)
	}
	if i := strings.LastIndex(line, "@"); i >= 0 {
		return "***" + line[i:]
	}
	// ip:port:user:pass
	if parts := strings.SplitN(line, ":", 3); len(parts) == 3 {
		return parts[0] + ":" + parts[1] + ":***"
	}
	return line
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
