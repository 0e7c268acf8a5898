package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vnmchuo/banana-gateway/internal/provider"
)

// Model is the neutral model id used for schedule planning.
const Model = "google/gemini-2.0-flash-exp"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Task is one to-do entry a user wants planned. Time is free text and may be
// unset.
type Task struct {
	Description string  `json:"description"`
	Time        *string `json:"time"`
}

type MainTask struct {
	Name     string   `json:"name"`
	Priority Priority `json:"priority"`
}

type TaskItem struct {
	Description string  `json:"description"`
	Time        float64 `json:"time"`
	TaskName    string  `json:"taskName"`
}

type Schedule struct {
	Tasks     []MainTask `json:"tasks"`
	TaskItems []TaskItem `json:"taskItems"`
}

// Generated is a parsed schedule plus what the upstream call reported about
// itself, so callers can meter it.
type Generated struct {
	Schedule         *Schedule
	Provider         provider.ID
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Chatter is the part of the orchestrator schedule generation needs.
type Chatter interface {
	ChatCompletion(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

type Generator struct {
	chat   Chatter
	logger *slog.Logger
}

func NewGenerator(chat Chatter, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{chat: chat, logger: logger.With("component", "schedule")}
}

const systemPrompt = `You are a professional day-planning assistant. Break the user's tasks down into detailed subtasks and allocate time sensibly.

Output format (JSON):
{
  "tasks": [
    {
      "name": "main task name",
      "priority": "high" | "medium" | "low"
    }
  ],
  "taskItems": [
    {
      "description": "detailed subtask description",
      "time": 0.5,
      "taskName": "name of the main task it belongs to"
    }
  ]
}

Rules:
1. Split every main task into at least 3 subtasks.
2. Subtask time is in hours (0.5 = 30 minutes).
3. Set priority by how important the task is.
4. The total time of all subtasks must not exceed the user's working hours.`

func userPrompt(tasks []Task, hours float64) (string, error) {
	list, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`I have %s hours of working time today. I need to get these tasks done:
%s

Build me a detailed schedule: split each task into actionable subtasks and assign time and priority.
Return only the JSON result with no other explanation.`, strconv.FormatFloat(hours, 'f', -1, 64), list), nil
}

// Generate asks the model for a schedule. Any failure, upstream or parsing,
// is logged and reported as a nil result; nothing is retried here.
func (g *Generator) Generate(ctx context.Context, tasks []Task, hours float64) *Generated {
	if tasks == nil {
		tasks = []Task{}
	}
	prompt, err := userPrompt(tasks, hours)
	if err != nil {
		g.logger.Error("failed to encode tasks", "error", err)
		return nil
	}

	temperature := provider.DefaultTemperature
	resp, err := g.chat.ChatCompletion(ctx, &provider.ChatRequest{
		Model: Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: systemPrompt},
			{Role: provider.RoleUser, Content: prompt},
		},
		Temperature: &temperature,
		MaxTokens:   provider.DefaultMaxTokens,
	})
	if err != nil {
		g.logger.Error("schedule generation failed", "error", err)
		return nil
	}

	g.logger.Info("schedule response received",
		"provider", resp.Provider,
		"model", resp.Model,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
	)

	s, err := Parse(resp.Text)
	if err != nil {
		g.logger.Error("invalid schedule response", "error", err, "text", truncate(resp.Text, 200))
		return nil
	}

	return &Generated{
		Schedule:         s,
		Provider:         resp.Provider,
		Model:            resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}
}

// Parse decodes model output, tolerating a markdown code fence around the
// JSON. Both top-level keys must be present and non-null.
func Parse(text string) (*Schedule, error) {
	body := StripCodeFence(text)
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	for _, key := range []string{"tasks", "taskItems"} {
		v := gjson.Get(body, key)
		if !v.Exists() || v.Type == gjson.Null {
			return nil, fmt.Errorf("response is missing %q", key)
		}
	}

	var s Schedule
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return &s, nil
}

func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// drop the info string, e.g. "json"
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
