package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/runcontext"
	"github.com/nlpodyssey/openai-agents-go/tracing"
	"github.com/nlpodyssey/openai-agents-go/types/optional"
	"golang.org/x/time/rate"

	"github.com/nikhilbhutani/financial-analyzer/internal/agent"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

// agentsBackend runs the pipeline on openai-agents-go against an
// OpenAI-compatible endpoint.
type agentsBackend struct {
	runner   agents.Runner
	steps    []sdkStep
	limiters map[string]*rate.Limiter
}

type sdkStep struct {
	task  agent.Task
	agent *agents.Agent
}

func newAgentsBackend(cfg *config.Config, tools toolbox) (*agentsBackend, error) {
	key := cfg.AgentsAPIKey()
	if key == "" {
		return nil, errors.New("agents backend needs an OpenAI-compatible API key")
	}
	agents.SetDefaultOpenaiKey(key, false)
	tracing.SetTracingDisabled(true)

	params := agents.OpenAIProviderParams{UseResponses: optional.Value(false)}
	if cfg.Engine.AgentsBaseURL != "" {
		params.BaseURL = optional.Value(cfg.Engine.AgentsBaseURL)
	}

	b := &agentsBackend{limiters: make(map[string]*rate.Limiter)}
	for _, step := range pipeline {
		fts := make([]agents.Tool, 0, len(step.role.tools))
		for _, name := range step.role.tools {
			fts = append(fts, functionTool(tools[name]))
		}
		sdkAgent := agents.New(step.role.name).
			WithInstructions(step.role.instructions()).
			WithModel(cfg.Engine.AgentsModel).
			WithTools(fts...)

		b.steps = append(b.steps, sdkStep{
			task: agent.Task{
				Name:           step.name,
				Description:    step.description,
				ExpectedOutput: step.expectedOutput,
			},
			agent: sdkAgent,
		})
		if rpm := cfg.LLM.RequestsPerMinute; rpm > 0 {
			b.limiters[step.role.name] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}

	b.runner = agents.Runner{Config: agents.RunConfig{
		ModelProvider:        agents.NewOpenAIProvider(params),
		MaxTurns:             uint64(cfg.Engine.MaxTurns),
		TracingDisabled:      true,
		WorkflowName:         "financial document analysis",
		CallModelInputFilter: b.throttle,
	}}
	return b, nil
}

// throttle holds each model call until the calling agent's limiter allows it.
func (b *agentsBackend) throttle(ctx context.Context, data agents.CallModelData) (*agents.ModelInputData, error) {
	if data.Agent != nil {
		if lim, ok := b.limiters[data.Agent.Name]; ok {
			if err := lim.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}
	}
	return &data.ModelData, nil
}

func (b *agentsBackend) run(ctx context.Context, inputs map[string]string) (string, error) {
	var previous []string
	var output string

	for _, step := range b.steps {
		msg, err := agent.RenderTask(step.task, inputs, previous)
		if err != nil {
			return "", fmt.Errorf("render task %s: %w", step.task.Name, err)
		}

		slog.Info("agents task started", "task", step.task.Name, "agent", step.agent.Name)
		result, err := b.runner.Run(ctx, step.agent, msg)
		if err != nil {
			return "", fmt.Errorf("task %s: %w", step.task.Name, err)
		}
		if result.FinalOutput == nil {
			return "", fmt.Errorf("task %s: agent returned no output", step.task.Name)
		}

		output = fmt.Sprint(result.FinalOutput)
		previous = append(previous, output)
	}
	return output, nil
}

// functionTool exposes a tool to the SDK with a single string argument.
func functionTool(ts toolSpec) agents.FunctionTool {
	return agents.FunctionTool{
		Name:        ts.name,
		Description: ts.description,
		ParamsJSONSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				ts.param: map[string]any{
					"type":        "string",
					"description": ts.paramDesc,
				},
			},
			"required":             []string{ts.param},
			"additionalProperties": false,
		},
		OnInvokeTool: func(ctx context.Context, _ *runcontext.Wrapper, arguments string) (any, error) {
			input, err := toolArgument(arguments, ts.param)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			out, err := ts.fn(ctx, input)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			return out, nil
		},
	}
}

func toolArgument(arguments, param string) (string, error) {
	if arguments == "" {
		return "", nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid tool arguments: %w", err)
	}
	v, ok := args[param]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", param)
	}
	return s, nil
}
