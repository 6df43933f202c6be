package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/m4xw311/warden/errors"
)

// TaskTrackerName is the name the runner watches to publish plan updates.
const TaskTrackerName = "task_tracker"

// Task statuses accepted by the task tracker.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
)

type Task struct {
	Title  string
	Status string
	Notes  string
}

// TaskTrackerTool keeps the agent's working plan for one session.
type TaskTrackerTool struct {
	mu    sync.Mutex
	tasks []Task
}

func (t *TaskTrackerTool) Name() string { return TaskTrackerName }
func (t *TaskTrackerTool) Description() string {
	return "Tracks the plan for the current task. Use command=plan with the full task_list to replace it, command=view to read it back."
}

func (t *TaskTrackerTool) Schema() map[string]any {
	return objectSchema([]string{"command"}, map[string]any{
		"command": map[string]any{"type": "string", "enum": []any{"view", "plan"}},
		"task_list": map[string]any{
			"type": "array",
			"items": objectSchema([]string{"title"}, map[string]any{
				"title":  map[string]any{"type": "string"},
				"status": map[string]any{"type": "string", "enum": []any{TaskTodo, TaskInProgress, TaskDone}},
				"notes":  map[string]any{"type": "string"},
			}),
		},
	})
}

func (t *TaskTrackerTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	switch command {
	case "plan":
		tasks, err := ParseTaskList(args)
		if err != nil {
			return "", err
		}
		t.mu.Lock()
		t.tasks = tasks
		t.mu.Unlock()
		return fmt.Sprintf("Task list updated with %d items.", len(tasks)), nil
	case "view":
		t.mu.Lock()
		defer t.mu.Unlock()
		if len(t.tasks) == 0 {
			return "No tasks tracked yet.", nil
		}
		var b strings.Builder
		for i, task := range t.tasks {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, task.Status, task.Title)
		}
		return b.String(), nil
	}
	return "", errors.New("unknown task_tracker command %q", command)
}

// ParseTaskList reads the task_list argument of a task_tracker call.
func ParseTaskList(args map[string]any) ([]Task, error) {
	raw, ok := args["task_list"].([]any)
	if !ok {
		return nil, errors.New("missing or invalid 'task_list' argument")
	}
	tasks := make([]Task, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.New("task %d is not an object", i)
		}
		task := Task{Status: TaskTodo}
		task.Title, _ = m["title"].(string)
		if s, ok := m["status"].(string); ok && s != "" {
			task.Status = s
		}
		task.Notes, _ = m["notes"].(string)
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ThinkTool lets the model log reasoning without side effects.
type ThinkTool struct{}

func (ThinkTool) Name() string { return "think" }
func (ThinkTool) Description() string {
	return "Write down a thought. Use it to reason about complex problems; it changes nothing."
}

func (ThinkTool) Schema() map[string]any {
	return objectSchema([]string{"thought"}, map[string]any{
		"thought": map[string]any{"type": "string"},
	})
}

func (ThinkTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return "Your thought has been logged.", nil
}
