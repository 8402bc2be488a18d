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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/blob"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
	"gigline/internal/server"
	"gigline/internal/stream"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gigline CLI",
	Long: `Gigline runs the negotiation and fulfillment workflow between a job
owner and a worker: one conversation per (job, proposal) pair, an
agreement that locks the terms, and a milestone ledger that tracks work
and payment under the agreed budget.

- Workspace: the .gigline directory holding the database; gigline.yml
  next to it carries the payment method catalog and server settings.
- Conversation: opened from a job and a proposal; the job owner speaks
  first, then both sides chat freely.
- Agreement: proposed by either side, confirmed only by the other; once
  confirmed it is immutable and the job moves to in_progress.
- Milestones: fixed-price units the owner plans and the worker accepts,
  or weekly timesheets for hourly agreements. Every entry draws against
  the agreement total; payment is released with proof and confirmed by
  the worker.
- Event log: diary of changes, view with 'gl log tail'.`,
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
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(agreementCmd())
	rootCmd.AddCommand(milestoneCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var marketplaceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(marketplaceID)), 0o644); err != nil {
				return err
			}
			env, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer env.Close()
			fmt.Printf("Initialized workspace: %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&marketplaceID, "marketplace", "local", "marketplace id")
	return cmd
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Register jobs"}
	var id, owner, kind, title string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				j, err := e.RegisterJob(ctx, id, owner, kind, title)
				if err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "job id")
	add.Flags().StringVar(&owner, "owner", "", "job owner id")
	add.Flags().StringVar(&kind, "kind", "online", "job kind (online or offline)")
	add.Flags().StringVar(&title, "title", "", "title")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("owner")
	_ = add.MarkFlagRequired("title")
	job.AddCommand(add)
	return job
}

func proposalCmd() *cobra.Command {
	prop := &cobra.Command{Use: "proposal", Short: "Register proposals"}
	var id, jobID, owner, note string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a proposal against a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RegisterProposal(ctx, id, jobID, owner, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "proposal id")
	add.Flags().StringVar(&jobID, "job", "", "job id")
	add.Flags().StringVar(&owner, "owner", "", "proposal owner id")
	add.Flags().StringVar(&note, "cover-note", "", "cover note")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("job")
	_ = add.MarkFlagRequired("owner")
	prop.AddCommand(add)
	return prop
}

func chatCmd() *cobra.Command {
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Converse between job owner and worker",
	}
	chat.AddCommand(chatOpenCmd())
	chat.AddCommand(chatSendCmd())
	chat.AddCommand(chatLogCmd())
	chat.AddCommand(chatReadCmd())
	chat.AddCommand(chatListCmd())
	chat.AddCommand(chatCloseCmd())
	return chat
}

func chatOpenCmd() *cobra.Command {
	var jobID, proposalID, jobOwner, worker string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open (or fetch) the conversation for a job and proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				conv, err := e.GetOrCreateConversation(ctx, jobID, proposalID, jobOwner, worker)
				if err != nil {
					return err
				}
				return printJSONOrTable(conv)
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&proposalID, "proposal", "", "proposal id")
	cmd.Flags().StringVar(&jobOwner, "job-owner", "", "job owner id")
	cmd.Flags().StringVar(&worker, "worker", "", "proposal owner id")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("proposal")
	_ = cmd.MarkFlagRequired("job-owner")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}

func chatSendCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "send <conversation-id>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SendMessage(ctx, args[0], viper.GetString("actor-id"), message)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message body")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func chatLogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log <conversation-id>",
		Short: "Show conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msgs, err := e.ListMessages(ctx, args[0], viper.GetString("actor-id"), repo.MessageFilters{Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"TIME", "FROM", "MESSAGE"})
				for _, m := range msgs {
					from := m.SenderID
					if m.IsSystem {
						from = "(system)"
					}
					t.AppendRow(table.Row{m.CreatedAt, from, m.Content})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 100, "number of messages")
	return cmd
}

func chatReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark the counterparty's messages as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.MarkRead(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Marked %d messages as read\n", n)
				return nil
			})
		},
	}
	return cmd
}

func chatListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListConversationsForActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "JOB", "PROPOSAL", "ACTIVE", "CREATED"})
				for _, c := range items {
					t.AppendRow(table.Row{c.ID, c.JobID, c.ProposalID, c.IsActive, c.CreatedAt})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func chatCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <conversation-id>",
		Short: "Deactivate a conversation (job owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeactivateConversation(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func agreementCmd() *cobra.Command {
	agr := &cobra.Command{
		Use:   "agreement",
		Short: "Negotiate agreements",
	}
	agr.AddCommand(agreementProposeCmd())
	agr.AddCommand(agreementEditCmd())
	agr.AddCommand(agreementDeleteCmd())
	agr.AddCommand(agreementConfirmCmd())
	agr.AddCommand(agreementShowCmd())
	return agr
}

func agreementFlags(cmd *cobra.Command, opts *engine.AgreementOptions) {
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&opts.PaymentAmount, "amount", 0, "fixed payment amount")
	cmd.Flags().StringVar(&opts.PaymentMethod, "method", "", "payment method (from the configured catalog)")
	cmd.Flags().StringVar(&opts.PaymentStructure, "structure", "full", "payment structure (full or milestone)")
	cmd.Flags().BoolVar(&opts.IsHourly, "hourly", false, "hourly agreement")
	cmd.Flags().Float64Var(&opts.HourlyRate, "rate", 0, "hourly rate")
	cmd.Flags().Float64Var(&opts.TotalHours, "hours", 0, "estimated total hours")
	cmd.Flags().StringVar(&opts.AdditionalNotes, "notes", "", "additional notes")
}

func agreementProposeCmd() *cobra.Command {
	var opts engine.AgreementOptions
	cmd := &cobra.Command{
		Use:   "propose <conversation-id>",
		Short: "Propose an agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConversationID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ProposeAgreement(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	agreementFlags(cmd, &opts)
	return cmd
}

func agreementEditCmd() *cobra.Command {
	var opts engine.AgreementOptions
	cmd := &cobra.Command{
		Use:   "edit <agreement-id>",
		Short: "Edit a proposed agreement (creator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			opts.ActorID = actorID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.EditAgreement(ctx, args[0], opts, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	agreementFlags(cmd, &opts)
	return cmd
}

func agreementDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <agreement-id>",
		Short: "Withdraw a proposed agreement (creator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAgreement(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func agreementConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <agreement-id>",
		Short: "Confirm an agreement (counterparty only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ConfirmAgreement(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agreementShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show the conversation's agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetAgreement(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func milestoneCmd() *cobra.Command {
	ms := &cobra.Command{
		Use:   "milestone",
		Short: "Manage the milestone ledger",
	}
	ms.AddCommand(milestoneAddCmd())
	ms.AddCommand(timesheetCmd())
	ms.AddCommand(milestoneTransitionCmd("accept", "Accept a planned milestone (worker only)", func(e engine.Engine, ctx context.Context, id, actor string) (domain.Milestone, error) {
		return e.AcceptMilestone(ctx, id, actor)
	}))
	ms.AddCommand(milestoneTransitionCmd("decline", "Decline a planned milestone (worker only)", func(e engine.Engine, ctx context.Context, id, actor string) (domain.Milestone, error) {
		return e.DeclineMilestone(ctx, id, actor)
	}))
	ms.AddCommand(milestoneTransitionCmd("complete", "Mark a milestone's work done (worker only)", func(e engine.Engine, ctx context.Context, id, actor string) (domain.Milestone, error) {
		return e.CompleteMilestone(ctx, id, actor)
	}))
	ms.AddCommand(milestoneTransitionCmd("confirm-received", "Confirm the payment arrived (worker only)", func(e engine.Engine, ctx context.Context, id, actor string) (domain.Milestone, error) {
		return e.ConfirmPaymentReceived(ctx, id, actor)
	}))
	ms.AddCommand(milestoneReleaseCmd())
	ms.AddCommand(milestoneListCmd())
	return ms
}

func milestoneAddCmd() *cobra.Command {
	var opts engine.MilestoneOptions
	cmd := &cobra.Command{
		Use:   "add <conversation-id>",
		Short: "Plan a milestone (job owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConversationID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.CreateMilestone(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Float64Var(&opts.Amount, "amount", 0, "amount")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func timesheetCmd() *cobra.Command {
	var opts engine.TimesheetOptions
	cmd := &cobra.Command{
		Use:   "timesheet <conversation-id>",
		Short: "Submit a weekly timesheet (worker only, hourly agreements)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConversationID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SubmitTimesheet(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().Float64Var(&opts.HoursWorked, "hours", 0, "hours worked")
	cmd.Flags().StringVar(&opts.WeekStart, "week-start", "", "week start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.WeekEnd, "week-end", "", "week end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("hours")
	_ = cmd.MarkFlagRequired("week-start")
	_ = cmd.MarkFlagRequired("week-end")
	return cmd
}

func milestoneTransitionCmd(use, short string, fn func(engine.Engine, context.Context, string, string) (domain.Milestone, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <milestone-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := fn(e, ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func milestoneReleaseCmd() *cobra.Command {
	var proofFile, proofRef string
	cmd := &cobra.Command{
		Use:   "release <milestone-id>",
		Short: "Release payment with proof (job owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ref := proofRef
				if proofFile != "" {
					store, err := workspaceBlobs(e.Config)
					if err != nil {
						return err
					}
					f, err := os.Open(proofFile)
					if err != nil {
						return err
					}
					defer f.Close()
					ref, err = store.SaveProof(ctx, f, strings.TrimPrefix(filepath.Ext(proofFile), "."))
					if err != nil {
						return err
					}
				}
				m, err := e.ReleasePayment(ctx, args[0], viper.GetString("actor-id"), ref)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&proofFile, "proof-file", "", "path to a payment proof to upload")
	cmd.Flags().StringVar(&proofRef, "proof-ref", "", "existing payment proof reference")
	return cmd
}

func milestoneListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list <conversation-id>",
		Short: "List milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMilestones(ctx, args[0], viper.GetString("actor-id"), repo.MilestoneFilters{Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "TITLE", "AMOUNT", "STATUS", "DUE"})
				for _, m := range items {
					t.AppendRow(table.Row{m.ID, m.Title, fmt.Sprintf("%.2f", m.Amount), m.Status, m.DueDate})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	logRoot.AddCommand(logTailCmd())
	return logRoot
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, conversationID, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
					ConversationID: conversationID,
					Type:           evtType,
					EntityKind:     entityKind,
					EntityID:       entityID,
					Limit:          n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyDeleteCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the plaintext is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plaintext := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("id: %s\nkey: %s\n", key.ID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			env, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer env.Close()

			hub := stream.NewHub(env.Config.Stream.Buffer)
			env.Engine.Notifier = hub
			if iv := env.Config.Stream.WatchdogIntervalSec; iv > 0 {
				go hub.Watchdog(cmd.Context(), time.Duration(iv)*time.Second)
			}
			blobs, err := workspaceBlobs(env.Config)
			if err != nil {
				return err
			}

			jwtSecret := env.Config.Server.JWTSecret
			if s := os.Getenv("GIGLINE_JWT_SECRET"); s != "" {
				jwtSecret = s
			}
			handler, err := server.New(server.Config{
				Engine:   env.Engine,
				Hub:      hub,
				Blobs:    blobs,
				BasePath: env.Config.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret:              jwtSecret,
					AllowLegacyActorHeader: env.Config.Server.AllowLegacyActorHeader,
				},
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(env.Engine)

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gigline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, env.Config.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env.Engine)
}

func workspaceBlobs(cfg *config.Config) (blob.Store, error) {
	dir := cfg.Blobs.Dir
	if dir == "" {
		dir = filepath.Join(viper.GetString("workspace"), ".gigline", "blobs")
	}
	return blob.NewFS(dir, cfg.Blobs.PublicBaseURL)
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
