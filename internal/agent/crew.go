package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nikhilbhutani/financial-analyzer/internal/prompt"
)

// Task is one unit of work in a Crew. Description and ExpectedOutput may
// reference kickoff inputs as {{name}}.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
}

// TaskOutput records what one task produced.
type TaskOutput struct {
	Task       string `json:"task"`
	Agent      string `json:"agent"`
	Output     string `json:"output"`
	Steps      int    `json:"steps"`
	TokensUsed int    `json:"tokens_used"`
}

type CrewResult struct {
	// Output is the final task's answer.
	Output     string       `json:"output"`
	Tasks      []TaskOutput `json:"tasks"`
	TokensUsed int          `json:"tokens_used"`
}

// Crew runs tasks strictly in order. Every task sees the outputs of the tasks
// before it as context.
type Crew struct {
	tasks []Task
}

func NewCrew(tasks ...Task) *Crew {
	return &Crew{tasks: tasks}
}

// Kickoff executes the crew. The first failing task aborts the run.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*CrewResult, error) {
	if len(c.tasks) == 0 {
		return nil, errors.New("crew has no tasks")
	}

	result := &CrewResult{}
	var previous []string

	for i, task := range c.tasks {
		if task.Agent == nil {
			return nil, fmt.Errorf("task %s has no agent", task.Name)
		}

		msg, err := RenderTask(task, inputs, previous)
		if err != nil {
			return nil, fmt.Errorf("render task %s: %w", task.Name, err)
		}

		slog.Info("crew task started", "task", task.Name, "agent", task.Agent.Name(), "position", i+1, "of", len(c.tasks))
		resp, err := task.Agent.Run(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}
		slog.Info("crew task finished", "task", task.Name, "steps", resp.TotalSteps, "tokens", resp.TokensUsed)

		result.Tasks = append(result.Tasks, TaskOutput{
			Task:       task.Name,
			Agent:      task.Agent.Name(),
			Output:     resp.Answer,
			Steps:      resp.TotalSteps,
			TokensUsed: resp.TokensUsed,
		})
		result.TokensUsed += resp.TokensUsed
		result.Output = resp.Answer
		previous = append(previous, resp.Answer)
	}

	return result, nil
}

// RenderTask builds the message an agent receives for task, given the outputs of
// the tasks that ran before it.
func RenderTask(task Task, inputs map[string]string, previous []string) (string, error) {
	desc, err := prompt.Render(task.Description, inputs)
	if err != nil {
		return "", err
	}
	expected, err := prompt.Render(task.ExpectedOutput, inputs)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(desc)
	if expected != "" {
		sb.WriteString("\n\nThis is the expected criteria for your final answer: ")
		sb.WriteString(expected)
	}
	if len(previous) > 0 {
		sb.WriteString("\n\nThis is the context you're working with:\n")
		sb.WriteString(strings.Join(previous, "\n\n----------\n\n"))
	}
	return sb.String(), nil
}
