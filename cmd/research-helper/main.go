package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/report"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

var (
	cfgFile    string
	storeFlag  string
	reportFlag string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var render bool

	rootCmd := &cobra.Command{
		Use:   "research-helper",
		Short: "A terminal-based deep research agent",
		Long: `research-helper asks for a topic, researches it over several levels of
follow-up queries, asks whether the findings are sufficient and writes a
markdown report once they are approved.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				console := NewConsole(os.Stdin, cmd.OutOrStdout())
				a.Engine.OnProgress = func(p research.Progress) {
					console.Status(fmt.Sprintf("Level %d/%d: %d queries, %d learnings", p.Level, p.Depth, p.Queries, p.Learnings))
				}

				res, err := a.Runner.Start(ctx, workflow.None{})
				if err != nil {
					return err
				}
				slog.Debug("Started run", "run_id", res.RunID)

				res, err = drive(ctx, a.Runner, res, console)
				if err != nil {
					return fmt.Errorf("%w (run %s can be continued with `resume`)", err, res.RunID)
				}
				return finish(cmd.OutOrStdout(), res, render)
			})
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./research-helper.yaml or ~/.config/research-helper/research-helper.yaml)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "run store backend: sqlite, postgres or redis")
	rootCmd.PersistentFlags().StringVar(&reportFlag, "report", "", "path of the markdown report")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().BoolVar(&render, "render", false, "render the finished report in the terminal")

	rootCmd.AddCommand(newStartCmd(), newResumeCmd(), newStatusCmd(), newListCmd(), newResearchCmd())
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if storeFlag != "" {
		cfg.StoreBackend = strings.ToLower(storeFlag)
	}
	if reportFlag != "" {
		cfg.ReportPath = reportFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close resources", "error", err)
		}
	}()
	return fn(ctx, a)
}

// finish prints the outcome of a terminal run.
func finish(w io.Writer, res *workflow.Result, render bool) error {
	if res.Status == workflow.StatusFailed {
		return fmt.Errorf("run %s failed: %s", res.RunID, res.Error)
	}
	out, err := reportOutput(res)
	if err != nil {
		return err
	}
	return printReport(w, out, render)
}

// printReport prints out and, when asked, the rendered report it points to.
func printReport(w io.Writer, out pipeline.ReportOutput, render bool) error {
	if err := printJSON(w, out); err != nil {
		return err
	}
	if !render || !out.Completed {
		return nil
	}
	text, err := os.ReadFile(out.ReportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	rendered, err := report.Render(string(text), 100)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, rendered)
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints a run result without its full state.
func printResult(w io.Writer, res *workflow.Result) error {
	shown := *res
	shown.State = nil
	return printJSON(w, shown)
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start a run and print where it is waiting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.Start(ctx, workflow.None{})
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newResumeCmd() *cobra.Command {
	var step, data string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Answer the suspension of a run and continue it",
		Example: `  research-helper resume 6f1c... --step research-workflow.get-user-query --data '{"query":"shotput","depth":"2","breadth":"2"}'
  research-helper resume 6f1c... --step research-workflow.approval --data '{"approved":true}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload json.RawMessage
			if data != "" {
				if !json.Valid([]byte(data)) {
					return fmt.Errorf("--data is not valid JSON")
				}
				payload = json.RawMessage(data)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Runner.Resume(ctx, args[0], strings.Split(step, "."), payload)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "dotted path of the suspended step")
	cmd.Flags().StringVar(&data, "data", "", "resume data as JSON")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Runner.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if full {
					return printJSON(cmd.OutOrStdout(), st)
				}
				return printResult(cmd.OutOrStdout(), &workflow.Result{
					RunID:     st.RunID,
					Status:    st.Status,
					Output:    st.Output,
					Suspended: st.Suspended,
					Error:     st.Error,
				})
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print the full run state including step history")
	return cmd
}

func newListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				runs, err := a.Store.List(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func newResearchCmd() *cobra.Command {
	var (
		p           research.Parameters
		writeReport bool
		render      bool
	)
	cmd := &cobra.Command{
		Use:   "research",
		Short: "Research a topic once, without the approval loop, and write the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(p.Query) == "" {
				return fmt.Errorf("--topic must not be empty")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				console := NewConsole(os.Stdin, cmd.ErrOrStderr())
				a.Engine.OnProgress = func(pr research.Progress) {
					console.Status(fmt.Sprintf("Level %d/%d: %d learnings", pr.Level, pr.Depth, pr.Learnings))
				}
				var record *research.Record
				_ = console.WithSpinner(fmt.Sprintf("Researching %q...", p.Query), func() error {
					record = a.Engine.Run(ctx, p)
					return nil
				})
				if record.Error != "" || !writeReport {
					_, err := io.WriteString(cmd.OutOrStdout(), research.Summarize(record))
					return err
				}
				var path string
				err := console.WithSpinner("Writing report...", func() error {
					var err error
					path, err = pipeline.WriteReport(ctx, a.Deps, record, slog.Default())
					return err
				})
				if err != nil {
					return err
				}
				return printReport(cmd.OutOrStdout(), pipeline.ReportOutput{Completed: true, ReportPath: path}, render)
			})
		},
	}
	cmd.Flags().StringVarP(&p.Query, "topic", "t", "", "the research topic")
	cmd.Flags().IntVar(&p.Depth, "depth", research.DefaultDepth, "number of research levels")
	cmd.Flags().IntVar(&p.Breadth, "breadth", research.DefaultBreadth, "queries per level")
	cmd.Flags().BoolVar(&writeReport, "write-report", true, "write the report instead of printing the findings")
	cmd.Flags().BoolVar(&render, "render", false, "render the finished report in the terminal")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}
