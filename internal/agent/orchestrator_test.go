package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/askd/internal/llm"
)

// scriptedChat replays canned replies and records every request.
type scriptedChat struct {
	replies  []llm.Message
	err      error
	calls    int
	received [][]llm.Message
	opts     []*llm.ChatOptions
}

func (s *scriptedChat) Chat(_ context.Context, _ string, messages []llm.Message, opts *llm.ChatOptions) (llm.Message, error) {
	s.calls++
	s.received = append(s.received, messages)
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return llm.Message{}, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return s.replies[idx], nil
}

func textReply(content string) llm.Message {
	return llm.Message{Role: "assistant", Content: content}
}

func toolCallReply(names ...string) llm.Message {
	msg := llm.Message{Role: "assistant"}
	for _, name := range names {
		msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
			Function: llm.FunctionCall{Name: name, Arguments: json.RawMessage(`{"query":"q"}`)},
		})
	}
	return msg
}

func simpleTool(name string, run func(ctx context.Context, args json.RawMessage) (string, error)) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Type:     "function",
			Function: llm.FunctionSpec{Name: name, Parameters: queryArgsSchema("q")},
		},
		Run: run,
	}
}

func TestRespond_DirectAnswer(t *testing.T) {
	chat := &scriptedChat{replies: []llm.Message{textReply("the answer is 42")}}
	o := NewOrchestrator(chat, "m", 6, time.Second)

	res, err := o.Respond(context.Background(), Turn{UserText: "what is the answer?"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.FinalText != "the answer is 42" {
		t.Errorf("final = %q", res.FinalText)
	}
	if len(res.Trace) != 0 {
		t.Errorf("trace = %+v", res.Trace)
	}
	if chat.calls != 1 {
		t.Errorf("chat calls = %d", chat.calls)
	}
	// Without tools the request must not advertise any.
	if chat.opts[0] != nil && len(chat.opts[0].Tools) != 0 {
		t.Errorf("tools advertised: %+v", chat.opts[0].Tools)
	}
}

func TestRespond_ToolRoundThenAnswer(t *testing.T) {
	chat := &scriptedChat{replies: []llm.Message{
		toolCallReply("lookup", "broken"),
		textReply("done"),
	}}
	tools := []Tool{
		simpleTool("lookup", func(context.Context, json.RawMessage) (string, error) {
			return "lookup result payload", nil
		}),
		simpleTool("broken", func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("backend offline")
		}),
	}

	o := NewOrchestrator(chat, "m", 6, time.Second)
	res, err := o.Respond(context.Background(), Turn{UserText: "go", Tools: tools})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.FinalText != "done" {
		t.Errorf("final = %q", res.FinalText)
	}

	if len(res.Trace) != 2 {
		t.Fatalf("trace = %+v", res.Trace)
	}
	if res.Trace[0].Tool != "lookup" || res.Trace[0].Error != "" {
		t.Errorf("trace[0] = %+v", res.Trace[0])
	}
	if strings.Contains(res.Trace[0].Summary, "payload") {
		t.Errorf("trace summary leaks payload: %q", res.Trace[0].Summary)
	}
	if res.Trace[1].Tool != "broken" || res.Trace[1].Error != "backend offline" {
		t.Errorf("trace[1] = %+v", res.Trace[1])
	}

	// The second round must observe both tool results, failure included.
	second := chat.received[1]
	var toolMsgs []string
	for _, m := range second {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m.Content)
		}
	}
	if len(toolMsgs) != 2 {
		t.Fatalf("tool messages = %v", toolMsgs)
	}
	if toolMsgs[0] != "lookup result payload" {
		t.Errorf("toolMsgs[0] = %q", toolMsgs[0])
	}
	if !strings.Contains(toolMsgs[1], "tool broken failed: backend offline") {
		t.Errorf("toolMsgs[1] = %q", toolMsgs[1])
	}
}

func TestRespond_MaxRounds(t *testing.T) {
	chat := &scriptedChat{replies: []llm.Message{toolCallReply("loop")}}
	tools := []Tool{
		simpleTool("loop", func(context.Context, json.RawMessage) (string, error) {
			return "again", nil
		}),
	}

	o := NewOrchestrator(chat, "m", 3, time.Second)
	res, err := o.Respond(context.Background(), Turn{UserText: "go", Tools: tools})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !res.LimitReached {
		t.Error("LimitReached = false")
	}
	if !strings.Contains(res.FinalText, "unable to complete") {
		t.Errorf("final = %q", res.FinalText)
	}
	if chat.calls != 3 {
		t.Errorf("chat calls = %d, want 3", chat.calls)
	}
	if len(res.Trace) != 3 {
		t.Errorf("trace length = %d", len(res.Trace))
	}
}

func TestRespond_UnknownTool(t *testing.T) {
	chat := &scriptedChat{replies: []llm.Message{
		toolCallReply("missing"),
		textReply("recovered"),
	}}

	o := NewOrchestrator(chat, "m", 6, time.Second)
	res, err := o.Respond(context.Background(), Turn{UserText: "go", Tools: nil})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.FinalText != "recovered" {
		t.Errorf("final = %q", res.FinalText)
	}
	if len(res.Trace) != 1 || !strings.Contains(res.Trace[0].Error, "unknown tool") {
		t.Errorf("trace = %+v", res.Trace)
	}
}

func TestRespond_CollectsWholeRoundBeforeNext(t *testing.T) {
	var running atomic.Int32
	slow := func(ctx context.Context, _ json.RawMessage) (string, error) {
		running.Add(1)
		defer running.Add(-1)
		time.Sleep(30 * time.Millisecond)
		return "slow done", nil
	}

	chat := &scriptedChat{replies: []llm.Message{
		toolCallReply("slow_a", "slow_b"),
		textReply("synth"),
	}}
	tools := []Tool{simpleTool("slow_a", slow), simpleTool("slow_b", slow)}

	o := NewOrchestrator(chat, "m", 6, time.Second)
	res, err := o.Respond(context.Background(), Turn{UserText: "go", Tools: tools})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.FinalText != "synth" {
		t.Errorf("final = %q", res.FinalText)
	}
	// Full collection barrier: nothing may still run once Respond returns.
	if n := running.Load(); n != 0 {
		t.Errorf("%d tool calls still running after synthesis", n)
	}
	if len(res.Trace) != 2 {
		t.Errorf("trace = %+v", res.Trace)
	}
}

func TestRespond_ToolTimeout(t *testing.T) {
	chat := &scriptedChat{replies: []llm.Message{
		toolCallReply("stuck"),
		textReply("moved on"),
	}}
	tools := []Tool{
		simpleTool("stuck", func(ctx context.Context, _ json.RawMessage) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
	}

	o := NewOrchestrator(chat, "m", 6, 10*time.Millisecond)
	res, err := o.Respond(context.Background(), Turn{UserText: "go", Tools: tools})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.FinalText != "moved on" {
		t.Errorf("final = %q", res.FinalText)
	}
	if len(res.Trace) != 1 || !strings.Contains(res.Trace[0].Error, "deadline") {
		t.Errorf("trace = %+v", res.Trace)
	}
}

func TestRespond_ChatError(t *testing.T) {
	chat := &scriptedChat{err: errors.New("model offline")}
	o := NewOrchestrator(chat, "m", 6, time.Second)

	if _, err := o.Respond(context.Background(), Turn{UserText: "go"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRespond_HistoryPrecedesUserText(t *testing.T) {
	chat := &scriptedChat{replies: []llm.Message{textReply("ok")}}
	o := NewOrchestrator(chat, "m", 6, time.Second)

	history := []llm.Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	if _, err := o.Respond(context.Background(), Turn{UserText: "new question", History: history}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	sent := chat.received[0]
	if len(sent) != 4 {
		t.Fatalf("messages = %+v", sent)
	}
	if sent[0].Role != "system" {
		t.Errorf("first message role = %q", sent[0].Role)
	}
	if sent[1].Content != "earlier question" || sent[3].Content != "new question" {
		t.Errorf("ordering wrong: %+v", sent)
	}
}
