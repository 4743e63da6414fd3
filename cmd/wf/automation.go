package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/app"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/domain"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/engine"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/inference"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/sla"
)

func inferCmd() *cobra.Command {
	var issuesPath, rulesPath string
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Suggest type, priority and area labels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, issues, err := loadInputs(issuesPath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if rulesPath != "" {
					rules, err := inference.LoadRulesFile(rulesPath)
					if err != nil {
						return err
					}
					ie, err := inference.New(rules)
					if err != nil {
						return err
					}
					e.Inference = ie
				}
				results, run, err := e.InferLabels(ctx, cfg, issues, runOptions(true))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "results": results})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Issue", "Category", "Label", "Confidence", "Reason"})
				for _, res := range results {
					for _, r := range res.All {
						tw.AppendRow(table.Row{fmt.Sprintf("#%d", res.IssueNumber), r.Category, r.Label, fmt.Sprintf("%.2f", r.Confidence), r.Reason})
					}
				}
				tw.Render()
				printRun(run)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issuesPath, "issues", "-", "issues JSON file")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "YAML trigger table layered over the built-in rules")
	return cmd
}

func blockedCmd() *cobra.Command {
	var issuesPath string
	var overrideHours float64
	var all bool
	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "Report open issues that exceeded or approach their SLA",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, issues, err := loadInputs(issuesPath)
			if err != nil {
				return err
			}
			var override *float64
			if cmd.Flags().Changed("sla-hours") {
				if overrideHours <= 0 {
					return fmt.Errorf("--sla-hours must be positive")
				}
				override = &overrideHours
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				statuses, run, err := e.DetectBlocked(ctx, cfg, issues, override, runOptions(true))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "statuses": statuses, "counts": sla.Summary(statuses)})
				}
				red := color.New(color.FgRed).SprintFunc()
				yellow := color.New(color.FgYellow).SprintFunc()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Issue", "State", "Priority", "Age (h)", "SLA (h)", "Over (h)", "Title"})
				for _, s := range statuses {
					if s.State == domain.StateOK && !all {
						continue
					}
					state := string(s.State)
					switch s.State {
					case domain.StateBlocked:
						state = red(state)
					case domain.StateWarning:
						state = yellow(state)
					}
					if s.HasBlockedLabel {
						state += " [label]"
					}
					tw.AppendRow(table.Row{fmt.Sprintf("#%d", s.IssueNumber), state, s.Priority,
						fmt.Sprintf("%.1f", s.AgeHours), fmt.Sprintf("%.0f", s.SLAHours), fmt.Sprintf("%.1f", s.ExceededBy), s.Title})
				}
				tw.Render()
				counts := sla.Summary(statuses)
				fmt.Printf("%s blocked, %s warning, %d ok\n",
					red(counts[domain.StateBlocked]), yellow(counts[domain.StateWarning]), counts[domain.StateOK])
				printRun(run)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issuesPath, "issues", "-", "issues JSON file")
	cmd.Flags().Float64Var(&overrideHours, "sla-hours", 0, "use this SLA for every issue instead of the configured one")
	cmd.Flags().BoolVar(&all, "all", false, "also list issues within their SLA")
	return cmd
}

func escalateCmd() *cobra.Command {
	var issuesPath, labelsPath string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Plan priority escalations",
		Long:  "Plans priority bumps for issues that aged past the escalation ladder or mention security. Decisions are printed; applying them to the tracker is left to the caller.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, issues, err := loadInputs(issuesPath)
			if err != nil {
				return err
			}
			var repoLabels []string
			if labelsPath != "" {
				labels, err := app.ReadRemoteLabels(labelsPath)
				if err != nil {
					return err
				}
				repoLabels = app.LabelNames(labels)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				decisions, run, err := e.EscalatePriorities(ctx, cfg, issues, repoLabels, runOptions(dryRun))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "decisions": decisions})
				}
				if dryRun {
					fmt.Println(color.YellowString("DRY RUN MODE - decisions are not marked as applied"))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Issue", "From", "To", "Remove", "Add", "Reason"})
				for _, d := range decisions {
					add := d.AddLabel
					if d.LabelMissing {
						add += " " + color.RedString("(missing in repo)")
					}
					tw.AppendRow(table.Row{fmt.Sprintf("#%d", d.IssueNumber), d.OldPriority, d.NewPriority, d.RemoveLabel, add, d.Reason})
				}
				tw.Render()
				printRun(run)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issuesPath, "issues", "-", "issues JSON file")
	cmd.Flags().StringVar(&labelsPath, "labels", "", "repository labels JSON file, used to flag missing target labels")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "record the run as a dry run")
	return cmd
}

func syncCmd() *cobra.Command {
	s := &cobra.Command{Use: "sync", Short: "Label and board synchronization"}
	s.AddCommand(syncPlanCmd())
	return s
}

func syncPlanCmd() *cobra.Command {
	var labelsPath, columnsPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Diff configured labels and columns against the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.LoadWorkflowConfig(configPath())
			if err != nil {
				return err
			}
			var labels []domain.RemoteLabel
			if labelsPath != "" {
				if labels, err = app.ReadRemoteLabels(labelsPath); err != nil {
					return err
				}
			}
			var columns []domain.RemoteColumn
			if columnsPath != "" {
				if columns, err = app.ReadRemoteColumns(columnsPath); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, run, err := e.PlanSync(ctx, cfg, labels, columns, runOptions(true))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "plan": plan})
				}
				green := color.New(color.FgGreen).SprintFunc()
				yellow := color.New(color.FgYellow).SprintFunc()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Action", "Kind", "Name", "Details"})
				for _, it := range plan.Labels.Created {
					tw.AppendRow(table.Row{green("create"), "label", it.Name, "#" + it.Color})
				}
				for _, it := range plan.Labels.Updated {
					tw.AppendRow(table.Row{yellow("update"), "label", it.Name, strings.Join(it.Changes, ", ")})
				}
				for _, it := range plan.Columns.Created {
					tw.AppendRow(table.Row{green("create"), "column", it.Name, "maps to " + it.MapsTo})
				}
				for _, name := range plan.Labels.Unmanaged {
					tw.AppendRow(table.Row{"keep", "label", name, "not managed by config"})
				}
				for _, name := range plan.Columns.Unmanaged {
					tw.AppendRow(table.Row{"keep", "column", name, "not managed by config"})
				}
				tw.Render()
				fmt.Printf("%d labels and %d columns already match\n", len(plan.Labels.Skipped), len(plan.Columns.Skipped))
				printRun(run)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&labelsPath, "labels", "", "repository labels JSON file")
	cmd.Flags().StringVar(&columnsPath, "columns", "", "project board columns JSON file")
	return cmd
}

func batchCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "Run blocked detection and escalation planning across repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, inputs, err := app.ReadManifest(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("concurrency") && m.Concurrency > 0 {
				concurrency = m.Concurrency
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reports, err := e.EvaluateRepositories(ctx, inputs, concurrency, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				red := color.New(color.FgRed).SprintFunc()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Repository", "Blocked", "Warning", "OK", "Escalations", "Error"})
				for _, r := range reports {
					errText := ""
					if r.Error != "" {
						errText = red(r.Error)
					}
					tw.AppendRow(table.Row{r.Repository, r.Counts[domain.StateBlocked], r.Counts[domain.StateWarning], r.Counts[domain.StateOK], len(r.Escalations), errText})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "repositories evaluated in parallel")
	return cmd
}

// loadInputs reads the config and an issue snapshot. The config is returned
// even with validation errors; the engine refuses to run on it.
func loadInputs(issuesPath string) (*config.WorkflowConfig, []domain.Issue, error) {
	cfg, _, err := app.LoadWorkflowConfig(configPath())
	if err != nil {
		return nil, nil, err
	}
	issues, err := app.ReadIssues(issuesPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, issues, nil
}

func printRun(run domain.Run) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Println(gray(fmt.Sprintf("run %s (%s, %d items)", run.ID, run.Kind, run.ItemCount)))
}
