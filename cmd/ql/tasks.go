package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"queueline/internal/app"
	"queueline/internal/domain"
	"queueline/internal/engine"
	"queueline/internal/engine/auth"
	"queueline/internal/repo"
)

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := newTable("ID", "Name", "State", "Owner", "Workbasket", "Classification", "Priority", "Due")
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Name, t.State, deref(t.Owner), t.Workbasket.Key, t.Classification.Key, t.Priority, deref(t.Due)})
	}
	tw.Render()
	return nil
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	return printTasks([]domain.Task{t})
}

func taskCmd() *cobra.Command {
	tc := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tc.AddCommand(taskCreateCmd())
	tc.AddCommand(taskListCmd())
	tc.AddCommand(taskGetCmd())
	tc.AddCommand(taskUpdateCmd())
	tc.AddCommand(taskClaimCmd())
	tc.AddCommand(taskSelectCmd())
	tc.AddCommand(taskCancelClaimCmd())
	tc.AddCommand(taskCompleteCmd())
	tc.AddCommand(taskStateCmd("cancel", "Cancel a task", engine.Engine.Cancel))
	tc.AddCommand(taskStateCmd("terminate", "Terminate a task", engine.Engine.Terminate))
	tc.AddCommand(taskTransferCmd())
	tc.AddCommand(taskDeleteCmd())
	tc.AddCommand(taskReadCmd())
	return tc
}

type objRefFlags struct {
	ref domain.ObjectReference
}

func (f *objRefFlags) bind(cmd *cobra.Command, prefix string) {
	cmd.Flags().StringVar(&f.ref.Company, prefix+"company", "", "primary object reference company")
	cmd.Flags().StringVar(&f.ref.System, prefix+"system", "", "primary object reference system")
	cmd.Flags().StringVar(&f.ref.SystemInstance, prefix+"system-instance", "", "primary object reference system instance")
	cmd.Flags().StringVar(&f.ref.Type, prefix+"type", "", "primary object reference type")
	cmd.Flags().StringVar(&f.ref.Value, prefix+"value", "", "primary object reference value")
}

// optional returns &v when the flag was given.
func optional[T any](cmd *cobra.Command, name string, v T) *T {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func taskCreateCmd() *cobra.Command {
	var in engine.TaskInput
	var por objRefFlags
	var classKey, classDomain, externalID, planned, due, received string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in a workbasket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				in.PrimaryObjRef = por.ref
				if classDomain == "" {
					classDomain = in.WorkbasketDomain
				}
				in.Classification = engine.ClassificationRef{Key: classKey, Domain: classDomain}
				in.ExternalID = optional(cmd, "external-id", externalID)
				in.Priority = optional(cmd, "priority", priority)
				in.Planned = optional(cmd, "planned", planned)
				in.Due = optional(cmd, "due", due)
				in.Received = optional(cmd, "received", received)
				t, err := rt.Engine.CreateTask(ctx, id, in)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.WorkbasketID, "workbasket", "", "workbasket id")
	cmd.Flags().StringVar(&in.WorkbasketKey, "workbasket-key", "", "workbasket key (with --domain)")
	cmd.Flags().StringVar(&in.WorkbasketDomain, "domain", "", "workbasket domain")
	cmd.Flags().StringVar(&classKey, "classification", "", "classification key")
	cmd.Flags().StringVar(&classDomain, "classification-domain", "", "classification domain (defaults to --domain)")
	cmd.Flags().StringVar(&externalID, "external-id", "", "caller supplied unique id")
	cmd.Flags().StringVar(&in.BusinessProcessID, "business-process-id", "", "business process id")
	cmd.Flags().StringVar(&in.Owner, "owner", "", "owner (personal workbaskets)")
	cmd.Flags().StringVar(&in.Name, "name", "", "task name")
	cmd.Flags().StringVar(&in.Note, "note", "", "note")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (defaults to the classification's)")
	cmd.Flags().StringVar(&planned, "planned", "", "planned timestamp (RFC3339)")
	cmd.Flags().StringVar(&due, "due", "", "due timestamp (RFC3339)")
	cmd.Flags().StringVar(&received, "received", "", "received timestamp (RFC3339)")
	cmd.Flags().StringSliceVar(&in.Custom, "custom", nil, "custom attributes")
	por.bind(cmd, "por-")
	_ = cmd.MarkFlagRequired("classification")
	return cmd
}

type taskQueryFlags struct {
	q      engine.TaskQuery
	por    objRefFlags
	states []string
	order  string
	limit  int
}

func (f *taskQueryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.q.IDs, "id", nil, "task ids")
	cmd.Flags().StringSliceVar(&f.q.ExternalIDs, "external-id", nil, "external ids")
	cmd.Flags().StringSliceVar(&f.states, "state", nil, "states (READY, CLAIMED, COMPLETED, CANCELLED, TERMINATED)")
	cmd.Flags().StringSliceVar(&f.q.WorkbasketIDs, "workbasket", nil, "workbasket ids")
	cmd.Flags().StringVar(&f.q.Owner, "owner", "", "owner")
	cmd.Flags().StringSliceVar(&f.q.ClassificationKeys, "classification", nil, "classification keys")
	cmd.Flags().StringVar(&f.q.BusinessProcessID, "business-process-id", "", "business process id")
	cmd.Flags().StringVar(&f.order, "order", "created", "created or priority")
	cmd.Flags().IntVar(&f.limit, "limit", 100, "max results")
	f.por.bind(cmd, "por-")
}

func (f *taskQueryFlags) query() (engine.TaskQuery, error) {
	q := f.q
	states, ok := domain.ParseTaskStates(upper(f.states))
	if !ok {
		return q, fmt.Errorf("unknown state in %v", f.states)
	}
	q.States = states
	q.PrimaryObjRef = f.por.ref
	switch f.order {
	case "", "created":
	case "priority":
		q.ByPriority = true
	default:
		return q, fmt.Errorf("unknown order %q", f.order)
	}
	q.Page = repo.Page{Limit: f.limit}
	return q, nil
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

func taskListCmd() *cobra.Command {
	var f taskQueryFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in readable workbaskets",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				tasks, err := rt.Engine.QueryTasks(ctx, id, q)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				t, err := rt.Engine.GetTask(ctx, id, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var name, note, desc, planned, due, bpID, classKey, classDomain string
	var priority int
	var custom []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit task attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				t, err := rt.Engine.GetTask(ctx, id, args[0])
				if err != nil {
					return err
				}
				u := engine.TaskUpdate{
					ID:                t.ID,
					Modified:          t.Modified,
					Name:              optional(cmd, "name", name),
					Note:              optional(cmd, "note", note),
					Description:       optional(cmd, "description", desc),
					Planned:           optional(cmd, "planned", planned),
					Due:               optional(cmd, "due", due),
					BusinessProcessID: optional(cmd, "business-process-id", bpID),
					Priority:          optional(cmd, "priority", priority),
				}
				if cmd.Flags().Changed("custom") {
					u.Custom = custom
				}
				if classKey != "" {
					if classDomain == "" {
						classDomain = t.Workbasket.Domain
					}
					u.Classification = &engine.ClassificationRef{Key: classKey, Domain: classDomain}
				}
				updated, err := rt.Engine.UpdateTask(ctx, id, u)
				if err != nil {
					return err
				}
				return printTask(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&note, "note", "", "note")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&planned, "planned", "", "planned timestamp (RFC3339)")
	cmd.Flags().StringVar(&due, "due", "", "due timestamp (RFC3339)")
	cmd.Flags().StringVar(&bpID, "business-process-id", "", "business process id")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	cmd.Flags().StringSliceVar(&custom, "custom", nil, "custom attributes")
	cmd.Flags().StringVar(&classKey, "classification", "", "classification key")
	cmd.Flags().StringVar(&classDomain, "classification-domain", "", "classification domain (defaults to the workbasket's)")
	return cmd
}

type taskOp func(engine.Engine, context.Context, auth.Identity, string) (domain.Task, error)

func taskStateCmd(use, short string, op taskOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskOp(cmd, args[0], op)
		},
	}
}

// taskForceCmd runs op, or forceOp with --force.
func taskForceCmd(use, short string, op, forceOp taskOp) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if force {
				return runTaskOp(cmd, args[0], forceOp)
			}
			return runTaskOp(cmd, args[0], op)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "act regardless of the current owner")
	return cmd
}

func runTaskOp(cmd *cobra.Command, taskID string, op taskOp) error {
	return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
		t, err := op(rt.Engine, ctx, id, taskID)
		if err != nil {
			return err
		}
		return printTask(t)
	})
}

func taskClaimCmd() *cobra.Command {
	return taskStateCmd("claim", "Claim a ready task", engine.Engine.Claim)
}

func taskCancelClaimCmd() *cobra.Command {
	return taskForceCmd("cancel-claim", "Return a claimed task to READY", engine.Engine.CancelClaim, engine.Engine.ForceCancelClaim)
}

func taskCompleteCmd() *cobra.Command {
	return taskForceCmd("complete", "Complete a claimed task", engine.Engine.Complete, engine.Engine.ForceComplete)
}

func taskSelectCmd() *cobra.Command {
	var f taskQueryFlags
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Claim the first ready task matching the filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				t, err := rt.Engine.SelectAndClaim(ctx, id, q)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskTransferCmd() *cobra.Command {
	var dom string
	var keepFlag bool
	cmd := &cobra.Command{
		Use:   "transfer <target-workbasket> <task-id>...",
		Short: "Move tasks to another workbasket",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				target, err := workbasketRef(ctx, rt.Engine, args[0], dom)
				if err != nil {
					return err
				}
				if len(args) == 2 {
					t, err := rt.Engine.Transfer(ctx, id, args[1], target, !keepFlag)
					if err != nil {
						return err
					}
					return printTask(t)
				}
				res, err := rt.Engine.TransferTasks(ctx, id, target, args[1:], !keepFlag)
				if err != nil {
					return err
				}
				return reportBulk("transferred", len(args)-1, res)
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "treat the target as a key in this domain")
	cmd.Flags().BoolVar(&keepFlag, "no-transfer-flag", false, "leave the transferred flag unset")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete finished tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				if len(args) == 1 {
					var err error
					if force {
						err = rt.Engine.ForceDeleteTask(ctx, id, args[0])
					} else {
						err = rt.Engine.DeleteTask(ctx, id, args[0])
					}
					if err != nil {
						return err
					}
					fmt.Printf("Deleted task %s\n", args[0])
					return nil
				}
				if force {
					return fmt.Errorf("--force deletes one task at a time")
				}
				res, err := rt.Engine.DeleteTasks(ctx, id, args)
				if err != nil {
					return err
				}
				return reportBulk("deleted", len(args), res)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even when the task is not finished")
	return cmd
}

func taskReadCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a task read (or unread)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				t, err := rt.Engine.SetTaskRead(ctx, id, args[0], !unread)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "mark unread instead")
	return cmd
}

func reportBulk(verb string, total int, res engine.BulkResult) error {
	if viper.GetBool("json") {
		failed := map[string]string{}
		for _, taskID := range res.FailedIDs() {
			failed[taskID] = res.Failed[taskID].Error()
		}
		return printJSON(map[string]any{"failed": failed})
	}
	for _, taskID := range res.FailedIDs() {
		fmt.Printf("%s: %v\n", taskID, res.Failed[taskID])
	}
	fmt.Printf("%d of %d task(s) %s\n", total-len(res.Failed), total, verb)
	if res.HasErrors() {
		return fmt.Errorf("%d task(s) failed", len(res.Failed))
	}
	return nil
}

func commentCmd() *cobra.Command {
	cc := &cobra.Command{Use: "comment", Short: "Manage task comments"}
	cc.AddCommand(&cobra.Command{
		Use:   "add <task-id> <text>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				c, err := rt.Engine.CreateComment(ctx, id, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	})
	cc.AddCommand(&cobra.Command{
		Use:   "list <task-id>",
		Short: "List comments of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				items, err := rt.Engine.ListComments(ctx, id, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Creator", "Created", "Text")
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Creator, c.Created, c.Text})
				}
				tw.Render()
				return nil
			})
		},
	})
	cc.AddCommand(&cobra.Command{
		Use:   "edit <comment-id> <text>",
		Short: "Replace the text of your comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				c, err := rt.Engine.GetComment(ctx, id, args[0])
				if err != nil {
					return err
				}
				c.Text = args[1]
				updated, err := rt.Engine.UpdateComment(ctx, id, c)
				if err != nil {
					return err
				}
				return printJSON(updated)
			})
		},
	})
	cc.AddCommand(&cobra.Command{
		Use:   "delete <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime, id auth.Identity) error {
				if err := rt.Engine.DeleteComment(ctx, id, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted comment %s\n", args[0])
				return nil
			})
		},
	})
	return cc
}
