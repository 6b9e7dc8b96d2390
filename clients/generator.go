package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"travel-missions/models"
)

// ErrEmptyCompletion is returned when the model answers with no choices.
var ErrEmptyCompletion = errors.New("generator returned no choices")

const missionSystemPrompt = `You design short photo missions for travellers.
Reply with JSON only. Every mission object has the fields:
"title", "description", "targetObjectName" (a concrete, photographable object),
"keywords" (3 to 6 lowercase labels an image classifier would return for the object),
"loreText" (two or three sentences of history revealed after completion).`

// OpenAIGenerator creates mission content through an OpenAI-compatible chat
// completions endpoint.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

func NewOpenAIGenerator(baseURL, apiKey, model string, timeout time.Duration) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			// A failed generation is surfaced to the caller, never retried.
			option.WithMaxRetries(0),
			option.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		model: model,
	}
}

// Generate asks for one mission in city at difficulty d whose target object is
// none of excludedTargets.
func (g *OpenAIGenerator) Generate(ctx context.Context, city models.City, d models.Difficulty, excludedTargets []string) (*models.MissionContent, error) {
	prompt := fmt.Sprintf("Create one %s mission in %s.", d, cityLabel(city))
	if len(excludedTargets) > 0 {
		prompt += " Do not use any of these target objects: " + strings.Join(excludedTargets, ", ") + "."
	}
	prompt += " Answer with a single JSON object."

	raw, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	obj := extractJSON(raw)
	if !obj.IsObject() {
		return nil, fmt.Errorf("generator reply is not a JSON object")
	}
	content := parseMissionContent(obj)
	return &content, nil
}

// GenerateBatch asks for quantity missions spread over the three tiers. Each
// item carries its own difficulty label.
func (g *OpenAIGenerator) GenerateBatch(ctx context.Context, city models.City, quantity int) ([]models.MissionContent, error) {
	prompt := fmt.Sprintf(
		"Create %d distinct missions in %s for a group. Mix easy, medium and hard missions and add a \"difficulty\" field to each. "+
			"Answer with a JSON array of mission objects.",
		quantity, cityLabel(city),
	)
	raw, err := g.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	doc := extractJSON(raw)
	if doc.IsObject() {
		doc = doc.Get("missions")
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("generator reply is not a JSON array")
	}
	var out []models.MissionContent
	doc.ForEach(func(_, item gjson.Result) bool {
		out = append(out, parseMissionContent(item))
		return true
	})
	return out, nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(missionSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.8),
	})
	if err != nil {
		return "", fmt.Errorf("generator request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

func cityLabel(city models.City) string {
	if city.Country == "" {
		return city.Name
	}
	return city.Name + ", " + city.Country
}

// extractJSON finds the JSON document in a model reply, tolerating markdown
// fences and prose around it.
func extractJSON(raw string) gjson.Result {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.IndexAny(s, "{["); start > 0 {
		s = s[start:]
	}
	if end := strings.LastIndexAny(s, "}]"); end >= 0 {
		s = s[:end+1]
	}
	if !gjson.Valid(s) {
		return gjson.Result{}
	}
	return gjson.Parse(s)
}

// parseMissionContent reads one mission object. Both camelCase and snake_case
// keys are accepted.
func parseMissionContent(obj gjson.Result) models.MissionContent {
	first := func(keys ...string) gjson.Result {
		for _, k := range keys {
			if v := obj.Get(k); v.Exists() {
				return v
			}
		}
		return gjson.Result{}
	}

	content := models.MissionContent{
		Title:            strings.TrimSpace(first("title").String()),
		Description:      strings.TrimSpace(first("description").String()),
		TargetObjectName: strings.TrimSpace(first("targetObjectName", "target_object_name", "target").String()),
		LoreText:         strings.TrimSpace(first("loreText", "lore_text", "lore").String()),
		Difficulty:       strings.TrimSpace(first("difficulty").String()),
	}
	for _, kw := range first("keywords").Array() {
		if s := strings.TrimSpace(kw.String()); s != "" {
			content.Keywords = append(content.Keywords, s)
		}
	}
	return content
}
