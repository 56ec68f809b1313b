package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/keyharvest/internal/browser"
	"github.com/nao1215/keyharvest/internal/harvest"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/proxypool"
	"github.com/nao1215/keyharvest/internal/report"
	"github.com/nao1215/keyharvest/internal/scheduler"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [phrase...]",
		Short: "Collect keyword frequencies for a list of phrases",
		Long: `Crawl splits the phrases over every eligible account and runs one browser
session per account until all phrases are processed.

In frequency mode each phrase gets its broad (ws), quoted (qws) and exact
(bws) impression counts. In depth mode each phrase is expanded into the
related suggestions of the service, level by level up to --depth.

Regions are crawled one after another. Phrases left behind by accounts
that hit a captcha, a rate limit or a login page are handed to the
remaining accounts. Press Ctrl+C to stop after the current phrase; the
partial results are still reported and stored.

Examples:
  # Frequencies of two phrases in Russia (region 225)
  keyharvest crawl "buy car" "rent car"

  # Phrases from a file, Moscow and Saint Petersburg
  keyharvest crawl -f phrases.txt -r 213 -r 2

  # Related suggestions two levels deep, as an Excel workbook
  keyharvest crawl --mode depth --depth 2 --format xlsx -o suggest.xlsx "buy car"`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	cmd.Flags().StringP("file", "f", "", "Read phrases from file, one per line (- for stdin)")
	cmd.Flags().IntSliceP("region", "r", nil, "Region id to crawl; repeat for several (default: config default region)")
	cmd.Flags().StringP("mode", "m", "", "Crawl mode: frequency or depth (default: config)")
	cmd.Flags().IntP("depth", "d", 0, "Frontier depth in depth mode (default: config)")
	cmd.Flags().Int64("min-shows", 0, "Drop suggestions with fewer impressions (default: config)")
	cmd.Flags().Int64("expand-min", 0, "Impressions a suggestion needs to be expanded (default: config)")
	cmd.Flags().Int("topk", 0, "Children expanded per parent, 0 for all (default: config)")
	cmd.Flags().Bool("no-broad", false, "Skip the broad count (ws)")
	cmd.Flags().Bool("no-quoted", false, "Skip the quoted count (qws)")
	cmd.Flags().Bool("no-exact", false, "Skip the exact count (bws)")
	cmd.Flags().Duration("query-interval", 0, "Minimum delay between two queries of one account (default: config)")
	cmd.Flags().Duration("wait-timeout", 0, "Time limit of one region batch (default: config)")
	cmd.Flags().Bool("headful", false, "Show the browser windows")
	cmd.Flags().Bool("retry-errored", false, "Let errored accounts retry once their retry delay passed")
	cmd.Flags().String("format", string(report.FormatText), "Report format: text, json, markdown or xlsx")
	cmd.Flags().StringP("output", "o", "", "Write report to specified file path (creates directories if needed)")

	return cmd
}

// crawlOptions are the crawl settings read from the command line.
type crawlOptions struct {
	req    harvest.Request
	format report.Format
	output string
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	opts, err := buildCrawlOptions(cmd, a, args)
	if err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	driver := browser.NewChromeDriver(
		browser.WithExecPath(a.cfg.ChromePath),
		browser.WithDriverLogger(a.logger),
	)
	opener := scheduler.BrowserOpener{
		Driver:   driver,
		Site:     a.cfg.Site,
		Slots:    browser.FileSlotStore{},
		Headless: a.cfg.Headless,
		Logger:   a.logger,
	}
	return runCrawl(ctx, cmd, a, opener, opts)
}

// runCrawl submits the crawl, waits for it and writes the report. It is
// split from runCrawlCmd so tests can pass a fake opener.
func runCrawl(ctx context.Context, cmd *cobra.Command, a *app, opener scheduler.Opener, opts crawlOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc := harvest.New(harvestConfig(a), a.pool, a.dir, opener,
		harvest.WithStore(a.store),
		harvest.WithResolver(a.resolver),
		harvest.WithLogger(a.logger),
	)
	defer svc.Close()

	go a.pool.RunHealthLoop(ctx, a.cfg.HealthInterval, a.cfg.HealthConcurrency, func(results []proxypool.HealthResult) {
		for _, res := range results {
			a.saveProxyState(ctx, res)
		}
	})

	id, err := svc.SubmitCrawl(ctx, opts.req)
	if err != nil {
		return err
	}
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Started job %s: %d phrases, regions %v\n", id, len(opts.req.Phrases), opts.req.Regions)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			a.logger.Warn("received shutdown signal, stopping after the current phrase", "job", string(id))
			fmt.Fprintln(out, "Stopping after the current phrase...")
			_ = svc.Cancel(id) //nolint:errcheck // The job is registered
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	if err := svc.Wait(context.WithoutCancel(ctx), id); err != nil {
		return err
	}

	status, err := svc.JobStatus(id)
	if err != nil {
		return err
	}
	results, err := svc.JobResults(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s %s in %s\n", id, status.State, time.Since(start).Round(time.Millisecond))

	if err := writeReport(cmd, opts.format, opts.output, report.New(status.Job, results.Set)); err != nil {
		return err
	}
	if status.State == model.JobFailed {
		return fmt.Errorf("job %s failed: %s", id, status.Err)
	}
	return nil
}

// harvestConfig maps the application config onto the service config.
func harvestConfig(a *app) harvest.Config {
	return harvest.Config{
		Defaults:          a.cfg.Params(),
		DefaultRegion:     a.cfg.DefaultRegion,
		MaxShowMore:       a.cfg.MaxShowMore,
		QueryInterval:     a.cfg.QueryInterval,
		WaitTimeout:       a.cfg.WaitTimeout,
		RequeueRounds:     a.cfg.RequeueRounds,
		RetryErrored:      a.cfg.RetryErrored,
		ErrorRetryAfter:   a.cfg.ErrorRetryAfter,
		RetryCaptcha:      a.cfg.RetryCaptcha,
		CaptchaRetryAfter: a.cfg.CaptchaRetryAfter,
	}
}

// buildCrawlOptions reads the crawl flags. Flags override the config.
func buildCrawlOptions(cmd *cobra.Command, a *app, args []string) (crawlOptions, error) {
	flags := cmd.Flags()
	cfg := a.cfg

	phrases := append([]string(nil), args...)
	path, err := flags.GetString("file")
	if err != nil {
		return crawlOptions{}, err
	}
	if path != "" {
		fromFile, err := readPhrases(cmd, path)
		if err != nil {
			return crawlOptions{}, err
		}
		phrases = append(phrases, fromFile...)
	}
	if len(phrases) == 0 {
		return crawlOptions{}, errors.New("no phrases provided (pass them as arguments or use --file)")
	}

	if flags.Changed("region") {
		if cfg.Regions, err = flags.GetIntSlice("region"); err != nil {
			return crawlOptions{}, err
		}
	}
	if mode, _ := flags.GetString("mode"); mode != "" {
		if cfg.Mode, err = model.ParseMode(mode); err != nil {
			return crawlOptions{}, err
		}
	}
	if depth, _ := flags.GetInt("depth"); depth != 0 {
		cfg.Depth = depth
	}
	if flags.Changed("min-shows") {
		cfg.MinShows, _ = flags.GetInt64("min-shows")
	}
	if flags.Changed("expand-min") {
		cfg.ExpandMin, _ = flags.GetInt64("expand-min")
	}
	if flags.Changed("topk") {
		cfg.TopK, _ = flags.GetInt("topk")
	}
	for name, kind := range map[string]*bool{
		"no-broad":  &cfg.Kinds.Broad,
		"no-quoted": &cfg.Kinds.Quoted,
		"no-exact":  &cfg.Kinds.Exact,
	} {
		if skip, _ := flags.GetBool(name); skip {
			*kind = false
		}
	}
	if cfg.Mode == model.ModeFrequency && !cfg.Kinds.Any() {
		return crawlOptions{}, errors.New("all frequency kinds are disabled")
	}
	if flags.Changed("query-interval") {
		cfg.QueryInterval, _ = flags.GetDuration("query-interval")
	}
	if v, _ := flags.GetDuration("wait-timeout"); v > 0 {
		cfg.WaitTimeout = v
	}
	if headful, _ := flags.GetBool("headful"); headful {
		cfg.Headless = false
	}
	if retry, _ := flags.GetBool("retry-errored"); retry {
		cfg.RetryErrored = true
	}

	name, err := flags.GetString("format")
	if err != nil {
		return crawlOptions{}, err
	}
	format, err := report.ParseFormat(name)
	if err != nil {
		return crawlOptions{}, err
	}
	output, err := flags.GetString("output")
	if err != nil {
		return crawlOptions{}, err
	}
	if format == report.FormatXLSX && output == "" {
		return crawlOptions{}, errors.New("the xlsx format needs --output")
	}

	return crawlOptions{
		req: harvest.Request{
			Phrases: phrases,
			Regions: cfg.Regions,
			Params:  cfg.Params(),
		},
		format: format,
		output: output,
	}, nil
}

// readPhrases reads one phrase per line. Blank lines and # comments are skipped.
func readPhrases(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path) //nolint:gosec // User-provided phrase file is intentional
		if err != nil {
			return nil, fmt.Errorf("failed to open phrase file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var phrases []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if len(line) > 0 && line[0] == '#' {
			continue
		}
		phrases = append(phrases, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read phrase file: %w", err)
	}
	return phrases, nil
}

// writeReport renders rep in format to output, or stdout when output is empty.
func writeReport(cmd *cobra.Command, format report.Format, output string, rep *report.Report) error {
	w, closeFn, err := openOutput(cmd, output)
	if err != nil {
		return err
	}
	writer, err := report.NewWriter(format, w)
	if err != nil {
		_ = closeFn() //nolint:errcheck // The write error is reported
		return err
	}
	if _, err := writer.Write(rep); err != nil {
		_ = closeFn() //nolint:errcheck // The write error is reported
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := closeFn(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	if output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", output)
	}
	return nil
}
