package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgelab/appaudit/internal/task"
	"github.com/edgelab/appaudit/models"
)

var (
	taskModel    string
	taskApp      int
	taskType     string
	taskService  string
	taskPriority string
	taskParent   string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Create and inspect analysis tasks",
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task (main, or a subtask when --parent is set)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		t := models.Task{
			ModelSlug:    taskModel,
			AppNumber:    taskApp,
			AnalysisType: taskType,
			ServiceName:  taskService,
			Priority:     taskPriority,
			ParentTaskID: taskParent,
		}
		if err := task.NewStore(db).Create(cmd.Context(), &t); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task and its subtasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		ts := task.NewStore(db)
		t, err := ts.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("task %s not found", args[0])
		}
		subs, err := ts.ListSubtasks(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"task": t, "subtasks": subs})
	},
}

var tasksStatusCmd = &cobra.Command{
	Use:   "status <task-id> <status>",
	Short: "Move a task through its state machine",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		ts := task.NewStore(db)
		if err := ts.UpdateStatus(cmd.Context(), args[0], models.TaskStatus(args[1])); err != nil {
			return err
		}
		t, err := ts.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if t != nil && t.ParentTaskID != "" {
			if _, err := ts.RefreshMainStatus(cmd.Context(), t.ParentTaskID); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

var tasksCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cooperative cancellation of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		ts := task.NewStore(db)
		if err := ts.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		t, err := ts.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

func init() {
	tasksCreateCmd.Flags().StringVar(&taskModel, "model", "", "model slug the app belongs to")
	tasksCreateCmd.Flags().IntVar(&taskApp, "app", 0, "application number")
	tasksCreateCmd.Flags().StringVar(&taskType, "type", "security", "analysis type")
	tasksCreateCmd.Flags().StringVar(&taskService, "service", "", "analyzer service name (subtasks)")
	tasksCreateCmd.Flags().StringVar(&taskPriority, "priority", "normal", "task priority")
	tasksCreateCmd.Flags().StringVar(&taskParent, "parent", "", "parent task id (creates a subtask)")
	_ = tasksCreateCmd.MarkFlagRequired("model")

	tasksCmd.AddCommand(tasksCreateCmd, tasksGetCmd, tasksStatusCmd, tasksCancelCmd)
}
