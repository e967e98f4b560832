package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"taskflow/internal/models"
	"taskflow/internal/view"
)

// viewContextCLI is the presentation context whose selection `tasks list` persists.
const viewContextCLI = "cli"

// maxParallelMutations bounds the fan-out of multi-id commands.
const maxParallelMutations = 4

func tasksCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and change your tasks",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.requireSession(cmd)
		},
	}

	cmd.AddCommand(tasksListCmd(opts))
	cmd.AddCommand(tasksTodayCmd(opts))
	cmd.AddCommand(tasksCompletedCmd(opts))
	cmd.AddCommand(tasksAddCmd(opts))
	cmd.AddCommand(tasksEditCmd(opts))
	cmd.AddCommand(tasksCompleteCmd(opts))
	cmd.AddCommand(tasksDeleteCmd(opts))
	cmd.AddCommand(tasksExportCmd(opts))
	cmd.AddCommand(tasksImportCmd(opts))

	return cmd
}

func tasksListCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with a filter and sort order",
		Long: `List tasks. --filter is one of all, completed, pending, overdue;
--sort is one of due_date_asc, due_date_desc, title_asc, title_desc.
The last filter and sort given are remembered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app
			ctx := cmd.Context()

			sel, _, err := a.store.LoadSelection(ctx, viewContextCLI)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("filter") {
				v, _ := cmd.Flags().GetString("filter")
				if sel.Filter, err = models.ParseFilter(v); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("sort") {
				v, _ := cmd.Flags().GetString("sort")
				if sel.Sort, err = models.ParseSort(v); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("filter") || cmd.Flags().Changed("sort") {
				if err := a.store.SaveSelection(ctx, viewContextCLI, sel); err != nil {
					return err
				}
			}

			if err := a.tasks.Refresh(ctx); err != nil {
				return err
			}
			return printTasks(cmd, a.tasks.View(sel), a.tasks.Now(), a.tasks.Stats())
		},
	}

	cmd.Flags().String("filter", "", "Filter: all, completed, pending, overdue")
	cmd.Flags().String("sort", "", "Sort: due_date_asc, due_date_desc, title_asc, title_desc")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func tasksTodayCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "today",
		Short: "List tasks due today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sort, err := sortFlag(cmd)
			if err != nil {
				return err
			}
			a := opts.app
			if err := a.tasks.Refresh(cmd.Context()); err != nil {
				return err
			}
			return printTasks(cmd, a.tasks.DueToday(sort), a.tasks.Now(), a.tasks.Stats())
		},
	}

	cmd.Flags().String("sort", "", "Sort: due_date_asc, due_date_desc, title_asc, title_desc")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func tasksCompletedCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completed",
		Short: "List completed tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sort, err := sortFlag(cmd)
			if err != nil {
				return err
			}
			a := opts.app
			if err := a.tasks.Refresh(cmd.Context()); err != nil {
				return err
			}
			sel := models.Selection{Filter: models.FilterCompleted, Sort: sort}
			return printTasks(cmd, a.tasks.View(sel), a.tasks.Now(), a.tasks.Stats())
		},
	}

	cmd.Flags().String("sort", "", "Sort: due_date_asc, due_date_desc, title_asc, title_desc")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func tasksAddCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := models.TaskInput{}
			in.Title, _ = cmd.Flags().GetString("title")
			in.Description, _ = cmd.Flags().GetString("description")

			due, _ := cmd.Flags().GetString("due")
			if due != "" {
				t, err := models.ParseTimestamp(due)
				if err != nil {
					return fmt.Errorf("invalid --due: %w", err)
				}
				in.DueDate = t
			}

			task, err := opts.app.tasks.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %d: %s\n", task.ID, task.Title)
			return nil
		},
	}

	cmd.Flags().StringP("title", "t", "", "Task title")
	cmd.Flags().StringP("description", "d", "", "Task description")
	cmd.Flags().String("due", "", "Due date (YYYY-MM-DD, YYYY-MM-DDTHH:MM or RFC 3339)")

	return cmd
}

func tasksEditCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's title, description or due date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}

			var patch models.TaskPatch
			if cmd.Flags().Changed("title") {
				v, _ := cmd.Flags().GetString("title")
				patch.Title = &v
			}
			if cmd.Flags().Changed("description") {
				v, _ := cmd.Flags().GetString("description")
				patch.Description = &v
			}
			if cmd.Flags().Changed("due") {
				v, _ := cmd.Flags().GetString("due")
				t, err := models.ParseTimestamp(v)
				if err != nil {
					return fmt.Errorf("invalid --due: %w", err)
				}
				patch.DueDate = &t
			}

			task, err := opts.app.tasks.Update(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated task %d: %s\n", task.ID, task.Title)
			return nil
		},
	}

	cmd.Flags().StringP("title", "t", "", "New title")
	cmd.Flags().StringP("description", "d", "", "New description")
	cmd.Flags().String("due", "", "New due date")

	return cmd
}

func tasksCompleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>...",
		Short: "Mark one or more tasks as completed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseTaskID(arg)
				if err != nil {
					return err
				}
				if !slices.Contains(ids, id) {
					ids = append(ids, id)
				}
			}

			// Different tasks may change concurrently; the first failure
			// cancels the ones not yet sent.
			done := make([]bool, len(ids))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(maxParallelMutations)
			for i, id := range ids {
				i, id := i, id
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					if err := opts.app.tasks.Complete(ctx, id); err != nil {
						return err
					}
					done[i] = true
					return nil
				})
			}
			err := g.Wait()

			for i, id := range ids {
				if done[i] {
					fmt.Fprintf(cmd.OutOrStdout(), "Completed task %d\n", id)
				}
			}
			return err
		},
	}
}

func tasksDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			if err := opts.app.tasks.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %d\n", id)
			return nil
		},
	}
}

func tasksExportCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download your tasks as a spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			export, err := opts.app.tasks.Export(cmd.Context())
			if err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("output")
			if path == "" {
				path = filepath.Base(export.Filename)
			}
			if err := os.WriteFile(path, export.Data, 0644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported tasks to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output file (defaults to the name the service suggests)")

	return cmd
}

func tasksImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Upload a spreadsheet (.xlsx or .xls) of tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			summary, err := opts.app.tasks.Import(cmd.Context(), filepath.Base(args[0]), payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.Message)
			return nil
		},
	}
}

func sortFlag(cmd *cobra.Command) (models.SortKind, error) {
	v, _ := cmd.Flags().GetString("sort")
	return models.ParseSort(v)
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

type taskRow struct {
	models.Task
	Status string `json:"status"`
}

// printTasks writes the listed tasks followed by counts over the whole collection.
func printTasks(cmd *cobra.Command, tasks []models.Task, now time.Time, stats view.Stats) error {
	out := cmd.OutOrStdout()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		rows := make([]taskRow, 0, len(tasks))
		for _, task := range tasks {
			rows = append(rows, taskRow{Task: task, Status: task.Status(now)})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	writeTable(out, tasks, now)
	fmt.Fprintf(out, "\n%d shown of %d tasks, %d active, %d completed, %d overdue\n",
		len(tasks), stats.Total, stats.Active, stats.Completed, stats.Overdue)
	return nil
}

func writeTable(out io.Writer, tasks []models.Task, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tDUE\tTITLE")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			task.ID,
			task.Status(now),
			task.DueDate.In(models.DefaultLocation).Format("2006-01-02 15:04"),
			task.Title)
	}
	tw.Flush()
}
