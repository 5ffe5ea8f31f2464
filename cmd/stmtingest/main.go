// Command stmtingest ingests bank and card statements into a reconciled ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/categorize"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/config"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/extract"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/firestore"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger/sqlite"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/logger"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/output"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/pipeline"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/plugins"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/registry"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/scanner"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/streaming"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ui"
)

const version = "0.1.0"

// errFailed signals a non-zero exit after the failure was already reported.
var errFailed = errors.New("failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// app carries what every subcommand shares once configuration is resolved.
type app struct {
	cfgFile string
	out     io.Writer
	errOut  io.Writer
	cfg     *config.Config
	log     zerolog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, log: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "stmtingest",
		Short:         "Ingest bank and card statements into a reconciled ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./"+config.DefaultFile+" if present)")
	pf.String("store", "", "ledger driver: sqlite, firestore or memory (default sqlite)")
	pf.String("db", "", "sqlite database path (default ledger.db)")
	pf.String("project", "", "Firestore project ID")
	pf.String("credentials", "", "Firestore service account file (default application credentials)")
	pf.Int("concurrency", 0, "documents processed in parallel (default 4)")
	pf.Duration("timeout", 0, "per-document extraction timeout")
	pf.String("tolerance", "", "reconciliation tolerance (default one minor unit)")
	pf.String("currency", "", "currency assumed when a statement names none (default USD)")
	pf.String("log-level", "", "debug, info, warn or error (default info)")
	pf.String("log-format", "", "console or json (default console)")
	pf.String("rules", "", "category rules file (default built-in rules)")

	root.AddCommand(
		a.ingestCmd(),
		a.pluginsCmd(),
		a.reviewCmd(),
		a.categorizeCmd(),
		a.testPluginsCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	log, err := logger.NewWithWriter(a.errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	ui.Out = a.out
	cmd.SetContext(logger.WithContext(cmd.Context(), log))
	return nil
}

func (a *app) openStore(ctx context.Context, driver string) (ledger.Store, error) {
	switch driver {
	case config.DriverSQLite:
		return sqlite.Open(a.cfg.Store.Path)
	case config.DriverFirestore:
		return firestore.NewStore(ctx, a.cfg.Store.ProjectID, a.cfg.Store.CredentialsFile)
	case config.DriverMemory:
		return ledger.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

func (a *app) registry() (*registry.Registry, error) {
	reg := registry.New(a.log)
	if err := plugins.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}

func (a *app) pipeline(reg *registry.Registry, store ledger.Store, hub *streaming.Hub, dryRun bool) (*pipeline.Pipeline, error) {
	driver, err := extract.NewDriver(a.cfg.Ingest.Timeout, a.cfg.Ingest.RetryTimeout, a.cfg.Ingest.Currency, a.log)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{
		pipeline.WithConcurrency(a.cfg.Ingest.Concurrency),
		pipeline.WithTailSize(a.cfg.Ingest.TailSize),
		pipeline.WithDryRun(dryRun),
		pipeline.WithDriver(driver),
		pipeline.WithHub(hub),
		pipeline.WithLogger(a.log),
	}
	tol, err := a.cfg.Tolerance()
	if err != nil {
		return nil, err
	}
	if tol != nil {
		opts = append(opts, pipeline.WithTolerance(*tol))
	}
	return pipeline.New(reg, store, opts...)
}

// ingest scans paths and runs every loadable document through the pipeline.
func (a *app) ingest(ctx context.Context, paths []string, store ledger.Store, dryRun bool) (*output.Report, error) {
	ui.Header("Ingesting Statements")
	ui.Step(1, 3, "Scanning")
	var found []scanner.ScanResult
	for _, p := range paths {
		results, err := scanner.New(p).Scan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", p, err)
		}
		found = append(found, results...)
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("no statement files found in %v (supported: %v)", paths, parser.SupportedSuffixes())
	}
	docs, unreadable := scanner.Load(found)
	ui.Success(fmt.Sprintf("Found %d statement files", len(found)))
	for _, u := range unreadable {
		ui.Warning(u.Error())
	}

	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	hub := streaming.NewHub(a.log)
	p, err := a.pipeline(reg, store, hub, dryRun)
	if err != nil {
		return nil, err
	}

	ui.Step(2, 3, "Ingesting")
	batchID := uuid.NewString()
	done := watch(hub.Subscribe(ctx, batchID))
	result := p.IngestBatch(ctx, batchID, docs)
	hub.Close(batchID)
	<-done

	ui.Step(3, 3, "Report")
	report := output.NewReport(result, unreadable)
	ui.Report(a.out, report)
	return report, nil
}

// watch prints per-document progress until the client's channel closes.
func watch(client *streaming.Client) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range client.Events {
			if d, ok := ev.Document(); ok {
				ui.Info(fmt.Sprintf("%s: %s", d.Document, d.Status))
			}
			if f, ok := ev.Failure(); ok {
				ui.Warning(f.Message)
			}
		}
	}()
	return done
}

func (a *app) ingestCmd() *cobra.Command {
	var dryRun bool
	var outFile string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest statement files or directories into the ledger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.openStore(cmd.Context(), a.cfg.Store.Driver)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer func() {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("failed to close ledger: %w", cerr)
				}
			}()

			report, err := a.ingest(cmd.Context(), args, store, dryRun)
			if err != nil {
				return err
			}
			if outFile != "" {
				if err := output.WriteReportToFile(report, outFile); err != nil {
					return err
				}
			}
			if report.Cancelled {
				return cmd.Context().Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run every stage but commit nothing")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "write the JSON report to this file")
	return cmd
}

func (a *app) testPluginsCmd() *cobra.Command {
	var baseline, outFile string
	cmd := &cobra.Command{
		Use:   "test-plugins <dir>",
		Short: "Run sample statements through the plugins against an in-memory ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := ledger.NewMemory()
			report, err := a.ingest(cmd.Context(), args, store, false)
			if err != nil {
				return err
			}
			if outFile != "" {
				if err := output.WriteReportToFile(report, outFile); err != nil {
					return err
				}
			}

			failed := report.Failed()
			if baseline != "" {
				base, err := output.LoadReport(baseline)
				if err != nil {
					return err
				}
				for _, r := range output.Compare(base, report) {
					ui.Error(fmt.Sprintf("%s: was %s, now %s", r.Document, r.Was, r.Now))
					failed = true
				}
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseline, "baseline", "", "previous report to check for regressions")
	cmd.Flags().StringVarP(&outFile, "output", "o", "", "write the JSON report to this file")
	return cmd
}

func (a *app) pluginsCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the registered parser plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			entries := reg.LookupAll()
			descs := make([]parser.Descriptor, 0, len(entries))
			for _, e := range entries {
				descs = append(descs, e.Descriptor)
			}
			if asYAML {
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				if err := enc.Encode(descs); err != nil {
					return fmt.Errorf("failed to encode plugins: %w", err)
				}
				return enc.Close()
			}
			ui.Plugins(a.out, descs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print descriptors as YAML")
	return cmd
}

func (a *app) reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "List statements that are unreconciled or carry suspected duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			store, err := a.openStore(cmd.Context(), a.cfg.Store.Driver)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer func() {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("failed to close ledger: %w", cerr)
				}
			}()

			stmts, err := store.NeedsReview(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to query statements for review: %w", err)
			}
			ui.Review(a.out, stmts)
			return nil
		},
	}
}

func (a *app) categorizeCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Label uncategorized transactions using the category rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			engine, err := categorize.Load(a.cfg.Rules.File)
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context(), a.cfg.Store.Driver)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer func() {
				if cerr := store.Close(); cerr != nil && err == nil {
					err = fmt.Errorf("failed to close ledger: %w", cerr)
				}
			}()
			cs, ok := store.(ledger.CategoryStore)
			if !ok {
				return fmt.Errorf("store driver %s does not support categorization", a.cfg.Store.Driver)
			}

			report, err := categorize.New(engine, a.log).Categorize(cmd.Context(), cs, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Labeled %d of %d transactions (%d unmatched)\n", report.Labeled, report.Scanned, report.Unmatched)
			cats := make([]string, 0, len(report.ByCategory))
			for c := range report.ByCategory {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			for _, c := range cats {
				fmt.Fprintf(a.out, "  %-16s %d\n", c, report.ByCategory[c])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum transactions to label (0 = all)")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "stmtingest version %s\n", version)
		},
	}
}
