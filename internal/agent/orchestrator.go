package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kalambet/askd/internal/llm"
)

const unableToCompleteText = "I was unable to complete the request within the allowed number of tool steps. Try narrowing the question or breaking it into smaller parts."

const defaultSystemPrompt = `You are a data assistant. Answer the user's question using the available tools when they help; answer directly when they do not. Ground every claim in tool results or the conversation. If a tool fails, work with what you have and say what is missing.`

// ChatClient is the model surface the orchestrator drives.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message, opts *llm.ChatOptions) (llm.Message, error)
}

// Invocation records one tool call for the turn's trace. Summary
// describes the result's shape, never its payload.
type Invocation struct {
	Round      int     `json:"round"`
	Tool       string  `json:"tool"`
	Arguments  string  `json:"arguments"`
	Summary    string  `json:"summary"`
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"durationMs"`
}

// Turn is one user request plus its context.
type Turn struct {
	UserText string
	History  []llm.Message
	Tools    []Tool
}

// Result is the orchestrator's answer for one turn.
type Result struct {
	FinalText    string
	Trace        []Invocation
	LimitReached bool
}

// Orchestrator runs the plan/invoke/synthesize loop for chat turns.
type Orchestrator struct {
	client      ChatClient
	model       string
	maxRounds   int
	toolTimeout time.Duration
	logger      *slog.Logger
}

func NewOrchestrator(client ChatClient, model string, maxRounds int, toolTimeout time.Duration) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = 6
	}
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}
	return &Orchestrator{
		client:      client,
		model:       model,
		maxRounds:   maxRounds,
		toolTimeout: toolTimeout,
		logger:      slog.Default(),
	}
}

// Respond drives the turn to completion. Each round sends the
// conversation to the model; tool calls in the reply are dispatched
// concurrently and every result is collected before the next round
// begins. Tool failures become observations the model can react to.
// When the round ceiling is hit the turn ends with a fallback answer
// rather than an error.
func (o *Orchestrator) Respond(ctx context.Context, turn Turn) (*Result, error) {
	byName := make(map[string]Tool, len(turn.Tools))
	specs := make([]llm.ToolSpec, 0, len(turn.Tools))
	for _, tool := range turn.Tools {
		byName[tool.Name()] = tool
		specs = append(specs, tool.Spec)
	}

	messages := make([]llm.Message, 0, len(turn.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: defaultSystemPrompt})
	messages = append(messages, turn.History...)
	messages = append(messages, llm.Message{Role: "user", Content: turn.UserText})

	opts := &llm.ChatOptions{}
	if len(specs) > 0 {
		opts.Tools = specs
	}

	var trace []Invocation
	for round := 1; round <= o.maxRounds; round++ {
		reply, err := o.client.Chat(ctx, o.model, messages, opts)
		if err != nil {
			return nil, fmt.Errorf("chat round %d: %w", round, err)
		}
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			return &Result{FinalText: reply.Content, Trace: trace}, nil
		}

		outcomes := o.dispatch(ctx, byName, reply.ToolCalls, round)
		for _, out := range outcomes {
			trace = append(trace, out.invocation)
			messages = append(messages, llm.Message{Role: "tool", Content: out.observation})
		}
	}

	o.logger.Warn("turn hit tool round ceiling", "max_rounds", o.maxRounds, "tool_calls", len(trace))
	return &Result{FinalText: unableToCompleteText, Trace: trace, LimitReached: true}, nil
}

type outcome struct {
	invocation  Invocation
	observation string
}

// dispatch runs every tool call of the round concurrently and waits
// for all of them. Results are returned in call order.
func (o *Orchestrator) dispatch(ctx context.Context, byName map[string]Tool, calls []llm.ToolCall, round int) []outcome {
	outcomes := make([]outcome, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			outcomes[i] = o.invoke(ctx, byName, call, round)
		}(i, call)
	}
	wg.Wait()

	return outcomes
}

func (o *Orchestrator) invoke(ctx context.Context, byName map[string]Tool, call llm.ToolCall, round int) outcome {
	name := call.Function.Name
	inv := Invocation{Round: round, Tool: name, Arguments: string(call.Function.Arguments)}

	tool, ok := byName[name]
	if !ok {
		inv.Error = fmt.Sprintf("unknown tool %q", name)
		return outcome{
			invocation:  inv,
			observation: fmt.Sprintf("tool %s failed: no such tool is available", name),
		}
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, o.toolTimeout)
	result, err := tool.Run(cctx, call.Function.Arguments)
	cancel()
	inv.DurationMs = elapsedMs(start)

	if err != nil {
		o.logger.Warn("tool call failed", "tool", name, "round", round, "error", err)
		inv.Error = err.Error()
		return outcome{
			invocation:  inv,
			observation: fmt.Sprintf("tool %s failed: %s", name, err.Error()),
		}
	}

	inv.Summary = fmt.Sprintf("ok (%d bytes)", len(result))
	return outcome{invocation: inv, observation: result}
}

func elapsedMs(start time.Time) float64 {
	ms := float64(time.Since(start).Microseconds()) / 1000.0
	return math.Round(ms*100) / 100
}
