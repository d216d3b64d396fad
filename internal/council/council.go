// Package council implements the Council Engine: concurrent fan-out of one
// query to a fixed member roster, weighted consensus, and agreement
// scoring. The concurrent-fan-out-then-aggregate shape is grounded on the
// teacher's internal/roles/ggs/ggs.go decision-table style (weighted
// thresholds feeding a single verdict), generalized from one solver to N
// independent roster members; golang.org/x/sync/errgroup drives the actual
// fan-out, matching the rest of the retrieval pack's concurrency idiom. One
// roster member (config.CouncilMember.Backend == "anthropic") is answered
// directly via github.com/anthropics/anthropic-sdk-go instead of the local
// tiered Inference Client, grounded on goadesign-goa-ai's Anthropic model
// adapter.
package council

import (
	"context"
	"regexp"
	"strconv"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/errgroup"

	"github.com/hcwagner/orchestrator/internal/config"
	"github.com/hcwagner/orchestrator/internal/llm"
	"github.com/hcwagner/orchestrator/internal/types"
)

// presetPrompts maps a CouncilMember's Specialization to a system prompt
// tailored to that lens.
var presetPrompts = map[string]string{
	"code-review":    "You are a code review specialist. Critique the submission for correctness and maintainability. End with a line \"Rating: X/10\".",
	"general":        "You are a generalist reviewer. Give a balanced assessment. End with a line \"Rating: X/10\".",
	"fact-check":     "You are a fact-checking specialist. Flag unsupported claims. End with a line \"Rating: X/10\".",
	"security-audit": "You are a security audit specialist. Identify vulnerabilities and unsafe patterns. End with a line \"Rating: X/10\".",
}

var ratingRe = regexp.MustCompile(`(?i)rating[:\s]+(\d+(?:\.\d+)?)\s*/\s*10`)

func extractRating(text string) *float64 {
	m := ratingRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// anthropicMessages narrows the Anthropic SDK's message service to what the
// Council needs, so tests can supply a fake.
type anthropicMessages interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Engine runs Council rounds against a fixed member roster.
type Engine struct {
	members   []config.CouncilMember
	local     *llm.Client
	anthropic anthropicMessages
}

// New creates an Engine. anthropicClient may be nil if no roster member uses
// the "anthropic" backend.
func New(members []config.CouncilMember, local *llm.Client, anthropicClient anthropicMessages) *Engine {
	return &Engine{members: members, local: local, anthropic: anthropicClient}
}

// Deliberate fans query out to every roster member concurrently and
// aggregates their responses into a CouncilResult.
func (e *Engine) Deliberate(ctx context.Context, query string) types.CouncilResult {
	start := time.Now()
	responses := make([]types.CouncilResponse, len(e.members))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range e.members {
		i, m := i, m
		g.Go(func() error {
			responses[i] = e.ask(gctx, m, query)
			return nil
		})
	}
	_ = g.Wait()

	result := types.CouncilResult{
		Responses:    responses,
		TotalLatency: time.Since(start),
	}
	result.Consensus, result.AverageRating, result.Agreement = aggregate(e.members, responses)
	return result
}

func (e *Engine) ask(ctx context.Context, m config.CouncilMember, query string) types.CouncilResponse {
	start := time.Now()
	system := presetPrompts[m.Specialization]
	if system == "" {
		system = presetPrompts["general"]
	}

	if m.Backend == "anthropic" {
		return e.askAnthropic(ctx, m, system, query, start)
	}
	return e.askLocal(ctx, m, system, query, start)
}

func (e *Engine) askLocal(ctx context.Context, m config.CouncilMember, system, query string, start time.Time) types.CouncilResponse {
	if e.local == nil {
		return types.CouncilResponse{Member: m.Name, Error: "council: no local inference client configured", Latency: time.Since(start)}
	}
	resp, err := e.local.Chat(ctx, system, query, m.ModelAlias, 0.5, 800)
	if err != nil {
		return types.CouncilResponse{Member: m.Name, Error: err.Error(), Latency: time.Since(start)}
	}
	text := llm.StripFences(resp.Text)
	return types.CouncilResponse{Member: m.Name, Text: text, Rating: extractRating(text), Latency: time.Since(start)}
}

func (e *Engine) askAnthropic(ctx context.Context, m config.CouncilMember, system, query string, start time.Time) types.CouncilResponse {
	if e.anthropic == nil {
		return types.CouncilResponse{Member: m.Name, Error: "council: no anthropic client configured", Latency: time.Since(start)}
	}
	msg, err := e.anthropic.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(m.ModelAlias),
		MaxTokens: 800,
		System:    []sdk.TextBlockParam{{Text: system}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(query))},
	})
	if err != nil {
		return types.CouncilResponse{Member: m.Name, Error: err.Error(), Latency: time.Since(start)}
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	text = llm.StripFences(text)
	return types.CouncilResponse{Member: m.Name, Text: text, Rating: extractRating(text), Latency: time.Since(start)}
}

// aggregate picks the non-errored response whose member carries the highest
// configured Weight as the consensus text; AverageRating is the plain
// arithmetic mean of every extracted numeric rating (weight decides
// consensus, not the rating average, per spec.md §4.9/P5); Agreement is
// derived from the ratings' variance (1 - normalized variance/10, clamped
// to [0,1]; a single rating or no ratings is defined as full agreement). If
// every member errored (or the roster is empty), consensus falls back to a
// canned string instead of an empty result, per P5.
func aggregate(members []config.CouncilMember, responses []types.CouncilResponse) (consensus string, avgRating, agreement float64) {
	if len(responses) == 0 {
		return "no responses", 0, ratingAgreement(nil)
	}

	weightByName := make(map[string]float64, len(members))
	for _, m := range members {
		weightByName[m.Name] = m.Weight
	}

	bestWeight := -1.0
	anyResponded := false
	var ratings []float64
	var ratingSum float64
	for _, r := range responses {
		if r.Error != "" {
			continue
		}
		anyResponded = true
		w := weightByName[r.Member]
		if w > bestWeight {
			bestWeight = w
			consensus = r.Text
		}
		if r.Rating != nil {
			ratings = append(ratings, *r.Rating)
			ratingSum += *r.Rating
		}
	}

	if !anyResponded {
		return "all members failed", 0, ratingAgreement(nil)
	}

	if len(ratings) > 0 {
		avgRating = ratingSum / float64(len(ratings))
	}

	agreement = ratingAgreement(ratings)
	return consensus, avgRating, agreement
}

// ratingAgreement maps a set of 0-10 ratings to a [0,1] agreement score via
// max(0, 1 - variance/10), per spec.md §4.9/§8. Fewer than two ratings is
// full agreement (a single member's round defines its own consensus).
func ratingAgreement(ratings []float64) float64 {
	if len(ratings) < 2 {
		return 1.0
	}
	var sum float64
	for _, r := range ratings {
		sum += r
	}
	mean := sum / float64(len(ratings))

	var variance float64
	for _, r := range ratings {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(ratings))

	agreement := 1 - variance/10.0
	if agreement < 0 {
		agreement = 0
	}
	if agreement > 1 {
		agreement = 1
	}
	return agreement
}
