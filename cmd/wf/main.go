package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/app"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/engine"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "wf",
	Short: "Gitea workflow policy CLI",
	Long: `wf applies a repository's workflow policy (.gitea/workflow.yaml) to issue snapshots.
- Config: label categories with prefixes, board columns mapped to status labels, automation switches.
- Inference: suggests type/priority/area labels from issue text.
- Blocked detection: ages open issues against the SLA of their priority.
- Escalation: plans priority bumps for aged or security-sensitive issues.
- Sync: diffs configured labels and columns against what the repository has.
Issue, label and column snapshots are JSON files as returned by the Gitea API ("-" reads stdin).
Every run is recorded in .gitea-workflow/workflow.db; see 'wf runs' and 'wf log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GITEA_WORKFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringP("config", "c", "", "workflow config path (default <workspace>/.gitea/workflow.yaml)")
	rootCmd.PersistentFlags().String("repo", "", "repository owner/name recorded with runs")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(inferCmd())
	rootCmd.AddCommand(blockedCmd())
	rootCmd.AddCommand(escalateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect the workflow config",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configLabelsCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var projectType, language string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config for a project type",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := app.InitWorkflowConfig(path, projectType, language, force)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			fmt.Printf("wrote %s (%s, %d labels, %d columns)\n", path, cfg.Project.Type, len(cfg.AllLabels()), len(cfg.Board.Columns))
			return nil
		},
	}
	cmd.Flags().StringVar(&projectType, "type", config.ProjectBackend, "project type (backend, frontend, fullstack, library)")
	cmd.Flags().StringVar(&language, "language", "", "primary language")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.LoadWorkflowConfig(configPath())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			data, err := config.Serialize(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, res, err := app.LoadWorkflowConfig(configPath())
			if err != nil {
				var pe *config.ParseError
				if viper.GetBool("json") && errors.As(err, &pe) {
					_ = printJSON(map[string]any{"valid": false, "problems": pe.Problems})
				}
				return err
			}
			if viper.GetBool("json") {
				if err := printJSON(res); err != nil {
					return err
				}
				return res.Err()
			}
			for _, w := range res.Warnings {
				fmt.Println("warning:", w)
			}
			if !res.Valid {
				for _, e := range res.Errors {
					fmt.Println("error:", e)
				}
				return res.Err()
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configLabelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "List every label the config defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.LoadWorkflowConfig(configPath())
			if err != nil {
				return err
			}
			labels := cfg.AllLabels()
			if viper.GetBool("json") {
				return printJSON(labels)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Category", "Color", "Description"})
			for _, l := range labels {
				tw.AppendRow(table.Row{l.Name, l.Category, "#" + l.Color, l.Description})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect recorded runs"}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var f repo.RunFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.Repository == "" {
					f.Repository = viper.GetString("repo")
				}
				runs, err := e.Repo.ListRuns(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Repository", "Items", "Dry run", "Actor", "Created"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ID, r.Kind, r.Repository, r.ItemCount, r.DryRun, r.ActorID, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "run kind (inference, blocked, escalation, sync)")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum runs")
	cmd.Flags().StringVar(&f.Repository, "repository", "", "repository filter (defaults to --repo)")
	return cmd
}

func runsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetRun(ctx, args[0])
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("run %s not found", args[0])
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				fmt.Printf("%s %s %s (%d items, dry run: %v)\nsummary: %s\n", detail.ID, detail.Kind, detail.Repository, detail.ItemCount, detail.DryRun, detail.Summary)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Issue", "Subject", "Detail"})
				for _, it := range detail.Items {
					issue := ""
					if it.IssueNumber != nil {
						issue = fmt.Sprintf("#%d", *it.IssueNumber)
					}
					tw.AppendRow(table.Row{it.Seq, issue, it.Subject, it.Detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	logc.AddCommand(logTailCmd())
	return logc
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.Repository == "" {
					f.Repository = viper.GetString("repo")
				}
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.Path(viper.GetString("workspace"))
}

func runOptions(dryRun bool) engine.RunOptions {
	return engine.RunOptions{
		Repository: viper.GetString("repo"),
		ActorID:    viper.GetString("actor-id"),
		DryRun:     dryRun,
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace, err := filepath.Abs(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	e, closeFn, err := app.OpenEngine(ctx, workspace)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
