package engine

import (
	"context"
	"log/slog"

	"github.com/nikhilbhutani/financial-analyzer/internal/agent"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
	"github.com/nikhilbhutani/financial-analyzer/internal/llm"
)

// crewBackend runs the pipeline on the in-house ReAct agents.
type crewBackend struct {
	crew *agent.Crew
}

func newCrewBackend(cfg *config.Config, gw llm.Gateway, tools toolbox) *crewBackend {
	tasks := make([]agent.Task, 0, len(pipeline))
	for _, step := range pipeline {
		a := agent.NewAgent(gw, agent.AgentConfig{
			Name:              step.role.name,
			SystemPrompt:      step.role.instructions(),
			Model:             cfg.LLM.DefaultModel,
			MaxSteps:          cfg.Engine.MaxSteps,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
		for _, name := range step.role.tools {
			a.RegisterTool(tools[name].tool())
		}
		tasks = append(tasks, agent.Task{
			Name:           step.name,
			Description:    step.description,
			ExpectedOutput: step.expectedOutput,
			Agent:          a,
		})
	}
	return &crewBackend{crew: agent.NewCrew(tasks...)}
}

func (b *crewBackend) run(ctx context.Context, inputs map[string]string) (string, error) {
	res, err := b.crew.Kickoff(ctx, inputs)
	if err != nil {
		return "", err
	}
	slog.Info("crew finished", "tasks", len(res.Tasks), "tokens", res.TokensUsed)
	return res.Output, nil
}
