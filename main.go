package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/giygas/ndc-report/config"
	"github.com/giygas/ndc-report/data"
	"github.com/giygas/ndc-report/enrichment"
	"github.com/giygas/ndc-report/handlers"
	"github.com/giygas/ndc-report/health"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/pipeline"
	"github.com/giygas/ndc-report/records"
	"github.com/giygas/ndc-report/report"
	"github.com/giygas/ndc-report/scheduler"
	"github.com/giygas/ndc-report/server"
	"github.com/spf13/cobra"
)

// inputFlags are shared by the report and serve commands
type inputFlags struct {
	workbook          string
	sheet             string
	descriptionColumn string
	ndcColumn         string
	commentColumn     string

	poFiles             []string
	poDescriptionColumn string
	poNDCColumn         string
	poDateColumn        string

	fuzzyThreshold float64
	enableRxNav    bool
	synonyms       string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	injectable := records.InjectableColumns()
	po := records.PurchaseOrderColumns()

	flags := cmd.Flags()
	flags.StringVar(&f.workbook, "injectable-workbook", "", "master injectables workbook or CSV (required)")
	flags.StringVar(&f.sheet, "injectable-sheet", "", "sheet of the injectables workbook (default: first sheet)")
	flags.StringVar(&f.descriptionColumn, "description-column", injectable.Description, "description column of the injectables sheet")
	flags.StringVar(&f.ndcColumn, "ndc-column", injectable.NDC, "NDC column of the injectables sheet")
	flags.StringVar(&f.commentColumn, "comment-column", injectable.Comment, "comment column of the injectables sheet")

	flags.StringArrayVar(&f.poFiles, "po-file", nil, "purchase order source as FACILITY=path[::sheet] (repeatable)")
	flags.StringVar(&f.poDescriptionColumn, "po-description-column", po.Description, "description column of the purchase order files")
	flags.StringVar(&f.poNDCColumn, "po-ndc-column", po.NDC, "NDC column of the purchase order files")
	flags.StringVar(&f.poDateColumn, "po-date-column", po.Date, "purchase date column of the purchase order files")

	flags.Float64Var(&f.fuzzyThreshold, "fuzzy-threshold", config.DefaultFuzzyThreshold, "minimum name match score (0-100)")
	flags.BoolVar(&f.enableRxNav, "enable-rxnav", false, "fill missing strength and dosage form from RxNav")
	flags.StringVar(&f.synonyms, "synonyms", "", "YAML file extending the synonym table")

	_ = cmd.MarkFlagRequired("injectable-workbook")
	_ = cmd.MarkFlagRequired("po-file")
}

// apply lets explicitly set flags override the environment
func (f *inputFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("fuzzy-threshold") {
		cfg.FuzzyThreshold = f.fuzzyThreshold
	}
	if flags.Changed("enable-rxnav") {
		cfg.EnrichmentEnabled = f.enableRxNav
	}
	if flags.Changed("synonyms") {
		cfg.SynonymsFile = f.synonyms
	}
	return cfg.Validate()
}

// options builds the run template from the flags
func (f *inputFlags) options(cfg *config.Config) (pipeline.Options, error) {
	var pos []records.Source
	for _, spec := range f.poFiles {
		src, err := records.ParsePOSpec(spec)
		if err != nil {
			return pipeline.Options{}, err
		}
		pos = append(pos, src)
	}

	return pipeline.Options{
		Injectables: records.Source{Path: f.workbook, Sheet: f.sheet},
		InjectableColumns: records.Columns{
			Description: f.descriptionColumn,
			NDC:         f.ndcColumn,
			Comment:     f.commentColumn,
		},
		PurchaseOrders: pos,
		POColumns: records.Columns{
			Description: f.poDescriptionColumn,
			NDC:         f.poNDCColumn,
			Date:        f.poDateColumn,
		},
		Threshold: cfg.FuzzyThreshold,
		Enrich:    cfg.EnrichmentEnabled,
	}, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "ndc-report",
		Short:         "Reconcile a master injectables list against facility purchase orders",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(envCmd())

	if err := rootCmd.Execute(); err != nil {
		logging.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the logger
func setup(cmd *cobra.Command, in *inputFlags) (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := in.apply(cmd, cfg); err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	closer, err := logging.InitLogger(logging.Options{
		Dir:            cfg.LogDir,
		Level:          cfg.LogLevel,
		RetentionWeeks: cfg.LogRetentionWeeks,
		MaxFileSize:    cfg.MaxLogFileSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	cleanup := func() {
		if err := closer.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
		}
	}
	return cfg, cleanup, nil
}

func reportCmd() *cobra.Command {
	var (
		in           inputFlags
		month        string
		startDate    string
		endDate      string
		output       string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build one reconciliation report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(cmd, &in)
			if err != nil {
				return err
			}
			defer cleanup()

			period, err := records.ResolvePeriod(month, startDate, endDate)
			if err != nil {
				return err
			}

			opts, err := in.options(cfg)
			if err != nil {
				return err
			}
			opts.Period = period
			opts.Output = output
			opts.Format = outputFormat

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, closeDeps, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDeps()

			rep, err := pipeline.Run(ctx, opts, deps)
			if err != nil {
				return err
			}

			fmt.Printf("Report %s written to %s (%d drugs, %d facilities)\n",
				rep.RunID, output, len(rep.Rows), len(rep.Facilities))
			return nil
		},
	}

	in.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&month, "month", "", "reporting month as YYYY-MM")
	flags.StringVar(&startDate, "start-date", "", "first purchase date included (YYYY-MM-DD)")
	flags.StringVar(&endDate, "end-date", "", "last purchase date included (YYYY-MM-DD)")
	flags.StringVarP(&output, "output", "o", "ndc_report.xlsx", "report file")
	flags.StringVar(&outputFormat, "output-format", "",
		fmt.Sprintf("one of %s, %s, %s (default: from the output extension)", report.FormatExcel, report.FormatCSV, report.FormatJSON))

	return cmd
}

func serveCmd() *cobra.Command {
	var (
		in         inputFlags
		runOnStart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monthly report job and serve the latest report over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup(cmd, &in)
			if err != nil {
				return err
			}
			defer cleanup()

			opts, err := in.options(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			deps, closeDeps, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDeps()

			store := data.NewReportContainer()
			store.SetServerStartTime(time.Now())

			sched := scheduler.NewScheduler(store, scheduler.Config{
				Options:     opts,
				Deps:        deps,
				ReportDir:   cfg.ReportDir,
				ScheduleDay: cfg.ReportScheduleDay,
				RunOnStart:  runOnStart,
			})
			// a signal during the initial run aborts it
			stopSched := context.AfterFunc(ctx, sched.Stop)
			defer stopSched()

			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			var handlerOpts []handlers.Option
			if cfg.EnrichmentEnabled {
				lookup := enrichment.NewEnricher(deps.Cache, deps.Lookup,
					enrichment.WithParser(deps.Parser))
				handlerOpts = append(handlerOpts, handlers.WithLookup(lookup))
			}

			handler := handlers.NewHTTPHandler(store, deps.Validator, deps.Parser,
				health.NewHealthChecker(store, cfg.ReportScheduleDay), handlerOpts...)
			srv := server.NewServer(cfg, handler)

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.Start()
			}()

			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}

	in.register(cmd)
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", true, "build the previous month's report before serving")

	return cmd
}

func envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables read at startup",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(strings.Join(config.GetEnvVars(), "\n"))
		},
	}
}
