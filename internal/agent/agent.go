package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nikhilbhutani/financial-analyzer/internal/llm"
)

const finalAnswerNudge = "You have run out of tool calls. Using everything observed so far, " +
	"respond now with your Final Answer in the required format."

// Agent is an LLM-powered entity that can use tools.
type Agent struct {
	name         string
	systemPrompt string
	gateway      llm.Gateway
	model        string
	tools        map[string]Tool
	toolOrder    []string
	maxSteps     int
	limiter      *rate.Limiter
}

// AgentConfig holds configuration for creating an agent.
type AgentConfig struct {
	Name         string
	SystemPrompt string
	Model        string
	MaxSteps     int // max ReAct iterations
	// RequestsPerMinute caps model calls made by this agent. Zero disables
	// the limit.
	RequestsPerMinute int
}

func NewAgent(gw llm.Gateway, cfg AgentConfig) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	a := &Agent{
		name:         cfg.Name,
		systemPrompt: cfg.SystemPrompt,
		gateway:      gw,
		model:        cfg.Model,
		tools:        make(map[string]Tool),
		maxSteps:     cfg.MaxSteps,
	}
	if cfg.RequestsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return a
}

func (a *Agent) Name() string { return a.name }

// RegisterTool adds a tool the agent can use.
func (a *Agent) RegisterTool(tool Tool) {
	if _, exists := a.tools[tool.Name()]; !exists {
		a.toolOrder = append(a.toolOrder, tool.Name())
	}
	a.tools[tool.Name()] = tool
}

// AgentResponse is the final output from an agent run.
type AgentResponse struct {
	Answer     string      `json:"answer"`
	Steps      []AgentStep `json:"steps"`
	TotalSteps int         `json:"total_steps"`
	TokensUsed int         `json:"tokens_used"`
}

// AgentStep records one iteration of the agent's reasoning loop.
type AgentStep struct {
	StepNumber  int    `json:"step"`
	Thought     string `json:"thought"`
	Action      string `json:"action,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Observation string `json:"observation,omitempty"`
}

// Run executes the agent on a task using the ReAct pattern. When the step
// budget runs out the model is asked once more for a final answer.
func (a *Agent) Run(ctx context.Context, task string) (*AgentResponse, error) {
	messages := []llm.Message{
		llm.SystemMessage(a.buildSystemPrompt()),
		llm.UserMessage(task),
	}

	var steps []AgentStep
	totalTokens := 0

	for step := 0; step < a.maxSteps; step++ {
		resp, err := a.chat(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("agent %s step %d: %w", a.name, step+1, err)
		}
		totalTokens += resp.TotalTokens

		parsed := parseReActResponse(resp.Content)
		agentStep := AgentStep{
			StepNumber:  step + 1,
			Thought:     parsed.Thought,
			Action:      parsed.Action,
			ActionInput: parsed.ActionInput,
		}

		// a reply with neither an action nor a final answer is taken as the answer
		if parsed.FinalAnswer != "" || parsed.Action == "" {
			answer := parsed.FinalAnswer
			if answer == "" {
				answer = strings.TrimSpace(resp.Content)
			}
			steps = append(steps, agentStep)
			return &AgentResponse{
				Answer:     answer,
				Steps:      steps,
				TotalSteps: step + 1,
				TokensUsed: totalTokens,
			}, nil
		}

		agentStep.Observation = a.useTool(ctx, parsed.Action, parsed.ActionInput)
		steps = append(steps, agentStep)

		messages = append(messages,
			llm.AssistantMessage(resp.Content),
			llm.UserMessage("Observation: "+agentStep.Observation),
		)
	}

	messages = append(messages, llm.UserMessage(finalAnswerNudge))
	resp, err := a.chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("agent %s final answer: %w", a.name, err)
	}
	totalTokens += resp.TotalTokens

	answer := parseReActResponse(resp.Content).FinalAnswer
	if answer == "" {
		answer = strings.TrimSpace(resp.Content)
	}
	return &AgentResponse{
		Answer:     answer,
		Steps:      steps,
		TotalSteps: a.maxSteps + 1,
		TokensUsed: totalTokens,
	}, nil
}

func (a *Agent) chat(ctx context.Context, messages []llm.Message) (*llm.ChatResponse, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return a.gateway.Chat(ctx, llm.ChatRequest{
		Model:    a.model,
		Messages: messages,
	})
}

// useTool runs the named tool and renders its outcome as an observation.
// Tool errors go back to the model rather than aborting the run.
func (a *Agent) useTool(ctx context.Context, name, input string) string {
	tool, exists := a.tools[name]
	if !exists {
		return fmt.Sprintf("Error: tool %q not found. Available tools: %s", name, strings.Join(a.toolOrder, ", "))
	}

	slog.Debug("agent executing tool", "agent", a.name, "tool", name)
	result, err := tool.Execute(ctx, input)
	if err != nil {
		return "Error: " + err.Error()
	}
	return result
}

func (a *Agent) buildSystemPrompt() string {
	if len(a.tools) == 0 {
		return a.systemPrompt + `

Respond with this EXACT format:
Thought: [your reasoning]
Final Answer: [your complete answer]`
	}

	var desc strings.Builder
	for _, name := range a.toolOrder {
		fmt.Fprintf(&desc, "- %s: %s\n", name, a.tools[name].Description())
	}

	return fmt.Sprintf(`%s

You have access to the following tools:
%s
To use a tool, respond with this EXACT format:
Thought: [your reasoning about what to do]
Action: [tool name]
Action Input: [input to the tool]

When you have enough information to answer, respond with:
Thought: [your final reasoning]
Final Answer: [your complete answer]

Always start with a Thought. You MUST end with a Final Answer.`, a.systemPrompt, desc.String())
}
