package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cityworks/internal/config"
	"cityworks/internal/db"
	"cityworks/internal/domain"
	"cityworks/internal/engine"
	"cityworks/internal/migrate"
	"cityworks/internal/repo"
	"cityworks/internal/seed"
	"cityworks/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cw",
	Short: "Cityworks CLI",
	Long: `Cityworks plans municipal capital projects in three stages:
- Formation scores open issues and turns high-risk ones into project candidates.
- Governance funds candidates against the quarterly budget, legal mandates first.
- Scheduling places funded projects on the crew calendar with weather advisories.
State lives in a .cityworks SQLite workspace; every change lands in the audit log.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CITYWORKS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(candidateCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the sample city dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := seed.Load(ctx, e.DB, e.Config, e.Now); err != nil {
					return err
				}
				fmt.Printf("Seeded %s: sample issues, signals, and the %d-week crew calendar\n",
					e.Config.City.Name, e.Config.Planning.HorizonWeeks)
				return nil
			})
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear pipeline outputs, keep issues and capacities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := seed.Reset(ctx, e.DB); err != nil {
					return err
				}
				fmt.Println("Pipeline outputs cleared")
				return nil
			})
		},
	}
}

func issueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "issue", Short: "Manage issues"}
	cmd.AddCommand(issueListCmd())
	cmd.AddCommand(issueAddCmd())
	return cmd
}

func issueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List issues with signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				issues, err := r.ListIssues(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issues)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Category", "Status", "Cost", "Safety", "Mandate"})
				for _, is := range issues {
					cost, safety, mandate := "", "", ""
					if is.Signal != nil {
						cost = money(is.Signal.EstimatedCost)
						safety = yesNo(is.Signal.SafetyRisk)
						mandate = yesNo(is.Signal.LegalMandate)
					}
					tw.AppendRow(table.Row{is.ID, is.Title, is.Category, is.Status, cost, safety, mandate})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func issueAddCmd() *cobra.Command {
	var (
		title, category, description, source string
		population, complaints               int64
		safety, mandate                      bool
		cost                                 float64
		urgency                              int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Report an issue with its impact signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				is := domain.Issue{
					Title:       title,
					Category:    category,
					Description: description,
					Source:      source,
					Status:      "OPEN",
					CreatedAt:   e.Now().UTC().Format(time.RFC3339),
				}
				id, err := e.Repo.InsertIssue(ctx, is)
				if err != nil {
					return err
				}
				err = e.Repo.UpsertSignal(ctx, domain.Signal{
					IssueID:            id,
					PopulationAffected: population,
					ComplaintCount:     complaints,
					SafetyRisk:         safety,
					LegalMandate:       mandate,
					EstimatedCost:      cost,
					UrgencyDays:        urgency,
				})
				if err != nil {
					return err
				}
				is.ID = id
				return printJSONOrTable(is)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&category, "category", "", "issue category (Water, Health, Infrastructure, ...)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&source, "source", "citizen_complaint", "report source")
	cmd.Flags().Int64Var(&population, "population", 0, "population affected")
	cmd.Flags().Int64Var(&complaints, "complaints", 0, "complaint count")
	cmd.Flags().BoolVar(&safety, "safety-risk", false, "safety risk flag")
	cmd.Flags().BoolVar(&mandate, "legal-mandate", false, "legal mandate flag")
	cmd.Flags().Float64Var(&cost, "cost", 0, "estimated cost")
	cmd.Flags().IntVar(&urgency, "urgency-days", 90, "days until action is required")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Run the planning pipeline"}
	cmd.AddCommand(planRunCmd())
	cmd.AddCommand(planRunsCmd())
	return cmd
}

func planRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute formation, governance, and scheduling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Run(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Run %s finished in stage %s\n", res.Run.RunID, res.Run.Stage)
				fmt.Printf("  formed %d candidates (%d already existed)\n", len(res.Formation.Candidates), res.Formation.Skipped)
				fmt.Printf("  approved %d projects, rejected %d, spent %s of %s\n",
					len(res.Allocation.Approved), len(res.Allocation.Rejected),
					money(res.Allocation.Spent), money(res.Allocation.Budget))
				fmt.Printf("  scheduled %d tasks", len(res.Schedule.Tasks))
				if n := len(res.Schedule.Unscheduled); n > 0 {
					fmt.Printf(", %d unschedulable", n)
				}
				fmt.Println()
				for _, d := range res.Schedule.Unscheduled {
					fmt.Printf("  ! no feasible window: %s (%s x%d for %d weeks)\n", d.Title, d.CrewType, d.CrewSize, d.EstimatedWeeks)
				}
				for _, t := range res.Schedule.Tasks {
					if t.Weather != nil && t.Weather.Risk == "high" {
						fmt.Printf("  ~ weather: %s weeks %d-%d: %s\n", t.Title, t.StartWeek, t.EndWeek, t.Weather.Recommendation)
					}
				}
				return nil
			})
		},
	}
}

func planRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List past pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Run", "Stage", "Budget", "Started", "Finished"})
				for _, run := range runs {
					finished := ""
					if run.FinishedAt != nil {
						finished = *run.FinishedAt
					}
					tw.AppendRow(table.Row{run.RunID, run.Stage, money(run.Budget), run.StartedAt, finished})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	return cmd
}

func candidateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "candidate", Short: "Project candidates"}
	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List project candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				fn := r.ListActiveCandidates
				if all {
					fn = r.ListCandidates
				}
				candidates, err := fn(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(candidates)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Project", "Title", "Risk", "Cost", "Weeks", "Crew"})
				for _, c := range candidates {
					tw.AppendRow(table.Row{c.ProjectID, c.Title, c.RiskScore, money(c.EstimatedCost), c.EstimatedWeeks,
						fmt.Sprintf("%s x%d", c.RequiredCrewType, c.CrewSize)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include withdrawn candidates")
	cmd.AddCommand(list)
	return cmd
}

func decisionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "decision", Short: "Portfolio decisions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List funding decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				decisions, err := r.ListDecisions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(decisions)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Rank", "Project", "Title", "Decision", "Allocated", "Rationale"})
				for _, d := range decisions {
					rank := ""
					if d.PriorityRank != nil {
						rank = fmt.Sprintf("%d", *d.PriorityRank)
					}
					tw.AppendRow(table.Row{rank, d.ProjectID, d.Title, d.Decision, money(d.AllocatedBudget), d.Rationale})
				}
				tw.Render()
				return nil
			})
		},
	})
	return cmd
}

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Project schedule"}
	cmd.AddCommand(scheduleListCmd())
	cmd.AddCommand(scheduleTimelineCmd())
	cmd.AddCommand(scheduleMoveCmd())
	return cmd
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Project", "Title", "Weeks", "Crew", "Weather"})
				for _, t := range tasks {
					advisory := ""
					if t.Weather != nil {
						advisory = fmt.Sprintf("%s (%d adverse days)", t.Weather.Risk, t.Weather.AdverseDays)
					}
					tw.AppendRow(table.Row{t.ProjectID, t.Title,
						fmt.Sprintf("%d-%d", t.StartWeek, t.EndWeek),
						fmt.Sprintf("%s x%d", t.ResourceType, t.CrewAssigned), advisory})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scheduleTimelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline",
		Short: "Week-by-week schedule bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx)
				if err != nil {
					return err
				}
				horizon := e.Config.Planning.HorizonWeeks
				fmt.Printf("%-40s %s\n", "", weekRuler(horizon))
				for _, t := range tasks {
					fmt.Printf("%-40s %s\n", truncate(t.Title, 40), weekBar(t.StartWeek, t.EndWeek, horizon))
				}
				return nil
			})
		},
	}
}

func scheduleMoveCmd() *cobra.Command {
	var projectID int64
	var fromWeek int
	var actor string
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Reschedule a project to a later window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.Reschedule(ctx, projectID, fromWeek, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	cmd.Flags().IntVar(&fromWeek, "from-week", 1, "earliest week to consider")
	cmd.Flags().StringVar(&actor, "actor", "cli", "who requested the move")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func calendarCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Crew capacity ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if year == 0 {
					year = e.Config.Planning.CalendarYear
				}
				entries, err := e.Repo.ListCalendar(ctx, year)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Crew", "Week", "Allocated", "Capacity"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.ResourceType, entry.WeekNumber, entry.Allocated, entry.Capacity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "calendar year (defaults to configured year)")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Plan overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Summary(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s: %d open issues, %d candidates, %d funded, %d scheduled\n",
					s.City, s.OpenIssues, s.ProjectsFormed, s.ProjectsApproved, s.TasksScheduled)
				fmt.Printf("budget: %s allocated, %s remaining of %s\n",
					money(s.TotalBudgetAllocated), money(s.BudgetRemaining), money(s.Budget))
				for crew, u := range s.ResourceUtilization {
					fmt.Printf("  %s: %.0f%% booked\n", crew, u*100)
				}
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit trail"}
	var limit int
	var runID, eventType, agent string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Latest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.LatestAuditEntries(ctx, limit, runID, eventType, agent)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Time", "Agent", "Event", "Payload"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.TS, e.AgentName, e.EventType, truncate(e.Payload, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "max entries")
	tail.Flags().StringVar(&runID, "run", "", "filter by run id")
	tail.Flags().StringVar(&eventType, "type", "", "filter by event type")
	tail.Flags().StringVar(&agent, "agent", "", "filter by agent name")
	cmd.AddCommand(tail)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Cityworks API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printJSONOrTable(v any) error {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func money(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.0fK", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func weekRuler(horizon int) string {
	var sb strings.Builder
	for w := 1; w <= horizon; w++ {
		sb.WriteString(fmt.Sprintf("%-3d", w))
	}
	return sb.String()
}

func weekBar(start, end, horizon int) string {
	var sb strings.Builder
	for w := 1; w <= horizon; w++ {
		if w >= start && w <= end {
			sb.WriteString("###")
		} else {
			sb.WriteString("...")
		}
	}
	return sb.String()
}
