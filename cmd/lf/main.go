package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"landflow/internal/app"
	"landflow/internal/config"
	"landflow/internal/db"
	"landflow/internal/engine"
	"landflow/internal/migrate"
	"landflow/internal/repo"
	"landflow/internal/server"
	"landflow/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "lf",
	Short: "Landflow CLI",
	Long: `Landflow runs a renewable-energy land marketplace.
Core concepts:
- Workspace: your .landflow directory with the database; landflow.yml holds the marketplace config.
- Workflow: one land parcel moving submitted -> verified_by_admin -> tasks_assigned -> in_progress -> interest_request -> interest_accepted -> ready_to_build.
- Tasks: specialist work items stamped out from config templates when an admin assigns tasks.
- Tickets: escalations a specialist raises against a task toward another role.
- SLA documents: uploaded agreements attached to a workflow or one of its tasks.
- Portfolio: capacity and full-term contract value over projects an investor committed to.
- Event log: diary of changes, view with 'lf log tail'.`,
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
	viper.SetEnvPrefix("LANDFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "skip role checks")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(portfolioCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var marketplaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(marketplaceID)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", cfgPath, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&marketplaceID, "id", "landflow", "marketplace id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show marketplace status",
		Long:  "Workflow counts per lifecycle state for the workspace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountWorkflowsByState(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				fmt.Printf("Marketplace: %s\n", e.Config.Marketplace.ID)
				fmt.Println("Workflows:")
				for _, state := range workflow.States {
					if c := counts[string(state)]; c > 0 {
						fmt.Printf("  %s: %d\n", state, c)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
		Long:  "Workflows are land parcels moving through the marketplace lifecycle. Each transition is owned by one role; --force skips the role check but never the lifecycle order.",
	}
	wf.AddCommand(workflowSubmitCmd())
	wf.AddCommand(workflowListCmd())
	wf.AddCommand(workflowGetCmd())
	wf.AddCommand(workflowUpdateCmd())
	wf.AddCommand(workflowVerifyCmd())
	wf.AddCommand(workflowAssignTasksCmd())
	wf.AddCommand(workflowSendInterestCmd())
	wf.AddCommand(workflowAcceptInterestCmd())
	wf.AddCommand(workflowApproveCmd())
	wf.AddCommand(workflowAdvanceCmd())
	return wf
}

func workflowSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Register a land parcel",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.LandownerID = viper.GetString("actor-id")
			if cmd.Flags().Changed("lat") {
				opts.Latitude = &lat
			}
			if cmd.Flags().Changed("lng") {
				opts.Longitude = &lng
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.SubmitWorkflow(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "workflow id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "site title")
	cmd.Flags().StringVar(&opts.LocationText, "location", "", "location description")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(&opts.AreaAcres, "area-acres", 0, "parcel area in acres")
	cmd.Flags().StringVar(&opts.LandType, "land-type", "", "land type")
	cmd.Flags().StringVar(&opts.EnergyCategory, "energy", "", "energy category (solar, wind, hydroelectric, biomass, geothermal)")
	cmd.Flags().Float64Var(&opts.CapacityMW, "capacity-mw", 0, "planned capacity in MW")
	cmd.Flags().Float64Var(&opts.PricePerMWh, "price-per-mwh", 0, "asking price per MWh")
	cmd.Flags().IntVar(&opts.ContractTermYears, "term-years", 0, "contract term in years")
	cmd.Flags().StringVar(&opts.TimelineText, "timeline", "", "expected timeline")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("energy")
	return cmd
}

func workflowListCmd() *cobra.Command {
	var f repo.WorkflowFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws, err := e.Repo.ListWorkflows(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ws)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Energy", "MW", "State", "Landowner"})
				for _, w := range ws {
					tw.AppendRow(table.Row{w.ID, w.Title, w.EnergyCategory, w.CapacityMW, w.State, w.LandownerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.State, "state", "", "state filter")
	cmd.Flags().StringVar(&f.Energy, "energy", "", "energy category filter")
	cmd.Flags().StringVar(&f.LandownerID, "landowner-id", "", "landowner filter")
	return cmd
}

func workflowGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkflow(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workflowUpdateCmd() *cobra.Command {
	var adminNotes, developerName, timeline string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update workflow details (administrator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkflowDetailsOptions{WorkflowID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("admin-notes") {
				opts.AdminNotes = &adminNotes
			}
			if cmd.Flags().Changed("developer") {
				opts.DeveloperName = &developerName
			}
			if cmd.Flags().Changed("timeline") {
				opts.TimelineText = &timeline
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UpdateWorkflowDetails(ctx, opts, viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&adminNotes, "admin-notes", "", "administrator notes")
	cmd.Flags().StringVar(&developerName, "developer", "", "developer name")
	cmd.Flags().StringVar(&timeline, "timeline", "", "timeline text")
	return cmd
}

func workflowVerifyCmd() *cobra.Command {
	return transitionCmd("verify <id>", "Verify a submitted site (administrator)",
		func(ctx context.Context, e engine.Engine, id string) (any, error) {
			return e.VerifyWorkflow(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
		})
}

func workflowSendInterestCmd() *cobra.Command {
	return transitionCmd("send-interest <id>", "Send investor interest for an in-progress site",
		func(ctx context.Context, e engine.Engine, id string) (any, error) {
			return e.SendInterest(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
		})
}

func workflowAcceptInterestCmd() *cobra.Command {
	return transitionCmd("accept-interest <id>", "Accept a pending interest request (administrator)",
		func(ctx context.Context, e engine.Engine, id string) (any, error) {
			return e.AcceptInterest(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
		})
}

func workflowApproveCmd() *cobra.Command {
	return transitionCmd("approve <id>", "Approve an accepted project as ready to build (administrator)",
		func(ctx context.Context, e engine.Engine, id string) (any, error) {
			return e.ApproveReadyToBuild(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
		})
}

func workflowAdvanceCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance a workflow to an explicit state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.TransitionWorkflow(ctx, id, workflow.State(target), viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target state")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func workflowAssignTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign-tasks <id>",
		Short: "Assign specialist tasks on a verified site (administrator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.AssignTasks(ctx, id, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks)
			})
		},
	}
	return cmd
}

func transitionCmd(use, short string, fn func(context.Context, engine.Engine, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := fn(ctx, e, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are specialist work items on a workflow. The first task moving off 'assigned' advances the workflow to in_progress.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Workflow", "Role", "Title", "Status"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.WorkflowID, t.AssignedRole, t.Title, t.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkflowID, "workflow", "", "workflow filter")
	cmd.Flags().StringVar(&f.AssignedRole, "role", "", "assigned role filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var status, timeline, notes string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{TaskID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("timeline") {
				opts.TimelineText = &timeline
			}
			if cmd.Flags().Changed("notes") {
				opts.Notes = &notes
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts, viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (assigned, in_progress, pending, delayed, completed, rejected, on_hold)")
	cmd.Flags().StringVar(&timeline, "timeline", "", "timeline text")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func ticketCmd() *cobra.Command {
	ticket := &cobra.Command{
		Use:   "ticket",
		Short: "Manage escalation tickets",
	}
	ticket.AddCommand(ticketCreateCmd())
	ticket.AddCommand(ticketGetCmd())
	ticket.AddCommand(ticketListCmd())
	return ticket
}

func ticketCreateCmd() *cobra.Command {
	var opts engine.TicketOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a ticket against a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTicket(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&opts.FromRole, "from-role", "", "originating role")
	cmd.Flags().StringVar(&opts.ToRole, "to-role", "", "target role")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func ticketGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTicket(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func ticketListCmd() *cobra.Command {
	var f repo.TicketFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tickets, err := e.Repo.ListTickets(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tickets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Workflow", "Task", "Subject", "Priority", "To"})
				for _, t := range tickets {
					tw.AppendRow(table.Row{t.ID, t.WorkflowID, t.TaskID, t.Subject, t.Priority, t.ToRole})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.WorkflowID, "workflow", "", "workflow filter")
	cmd.Flags().StringVar(&f.TaskID, "task", "", "task filter")
	cmd.Flags().StringVar(&f.ToRole, "to-role", "", "target role filter")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Manage SLA documents",
	}
	doc.AddCommand(docUploadCmd())
	doc.AddCommand(docListCmd())
	doc.AddCommand(docDownloadCmd())
	return doc
}

func docUploadCmd() *cobra.Command {
	var workflowID, taskID, filePath string
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload an SLA document",
		RunE: func(cmd *cobra.Command, args []string) error {
			contents, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AddSLADocument(ctx, workflowID, taskID, filepath.Base(filePath), contents, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&taskID, "task", "", "task id (optional)")
	cmd.Flags().StringVar(&filePath, "file", "", "path to document")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func docListCmd() *cobra.Command {
	var workflowID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents on a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				docs, err := e.Repo.ListDocuments(ctx, workflowID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "File", "Task", "Uploaded By", "Created"})
				for _, d := range docs {
					taskID := ""
					if d.TaskID != nil {
						taskID = *d.TaskID
					}
					tw.AppendRow(table.Row{d.ID, d.FileName, taskID, d.UploadedBy, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow id")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func docDownloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download document contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contents, err := e.Repo.GetDocumentContent(ctx, id)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = os.Stdout.Write(contents)
					return err
				}
				return os.WriteFile(out, contents, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default stdout)")
	return cmd
}

func portfolioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show investor portfolio summary",
		Long:  "Counts projects in interest_accepted or ready_to_build and sums capacity and full-term contract value.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.Portfolio(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Projects", "Capacity (MW)", "Contract Value"})
				tw.AppendRow(table.Row{sum.ProjectCount, sum.TotalCapacityMW, fmt.Sprintf("%.2f", sum.TotalContractValue)})
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage users and roles",
	}
	user.AddCommand(userRegisterCmd())
	user.AddCommand(userGetCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userGrantCmd())
	user.AddCommand(userRevokeCmd())
	return user
}

func userRegisterCmd() *cobra.Command {
	var id, email, name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.RegisterUser(ctx, id, email, name, roles)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (optional)")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role (repeatable: landowner, administrator, investor, re_sales_advisor, re_analyst, re_governance_lead, project_manager)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get user with roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUser(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Roles"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.Name, strings.Join(u.Roles, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--user and --role required")
			}
			if !workflow.ValidRole(workflow.Role(role)) {
				return fmt.Errorf("unknown role %q", role)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.AssignRole(ctx, tx, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	return cmd
}

func userRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--user and --role required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.RevokeRole(ctx, tx, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key (plaintext shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, userID, name)
				if err != nil {
					return err
				}
				out := map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": plain}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: submissions, transitions, task updates, tickets, and uploads.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var workflowID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, workflowID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
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
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("LANDFLOW_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("LANDFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Landflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

// --- helpers ---

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
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("actor-id"), r)
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
