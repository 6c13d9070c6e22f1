// Package agent issues the model calls the section pipeline depends
// on: retrieval planning, grounded generation, response-quality
// analysis, and intake metadata extraction.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"groundline/internal/doc"
	"groundline/internal/llm"
)

// Agent wraps the LLM provider with the pipeline's prompt surface.
type Agent struct {
	provider   llm.Provider
	model      string
	smallModel string
	now        func() time.Time
}

// Option configures the Agent during construction.
type Option func(*Agent)

// WithClock overrides the clock used for prompt dates. Test hook.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New builds an Agent. model handles generation and planning; smallModel
// handles response analysis and intake metadata.
func New(provider llm.Provider, model, smallModel string, opts ...Option) *Agent {
	a := &Agent{
		provider:   provider,
		model:      model,
		smallModel: smallModel,
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Agent) contextDate() string {
	return a.now().Format("January 2, 2006")
}

// SectionMeta carries the shared descriptive fields of a section run.
type SectionMeta struct {
	SectionName         string
	SectionDescription  string
	TemplateDescription string
	ProjectDescription  string
}

func (m SectionMeta) validate() error {
	if strings.TrimSpace(m.SectionName) == "" {
		return fmt.Errorf("%w: section name cannot be empty", doc.ErrValidation)
	}
	if strings.TrimSpace(m.SectionDescription) == "" {
		return fmt.Errorf("%w: section description cannot be empty", doc.ErrValidation)
	}
	return nil
}

// GenerateResponse runs the grounded generation call and returns the
// raw model content. Text sections return free prose; table and chart
// sections request a JSON object.
func (a *Agent) GenerateResponse(ctx context.Context, meta SectionMeta, numberedContext string, format doc.OutputFormat, dependentContext string) (string, error) {
	if strings.TrimSpace(numberedContext) == "" {
		return "", fmt.Errorf("%w: context cannot be empty", doc.ErrValidation)
	}
	if err := meta.validate(); err != nil {
		return "", err
	}

	prompt := replaceAll(basePrompt, map[string]string{
		"{context_date}":         a.contextDate(),
		"{project_description}":  meta.ProjectDescription,
		"{template_description}": meta.TemplateDescription,
		"{section_name}":         meta.SectionName,
		"{section_description}":  meta.SectionDescription,
	})
	if dependentContext != "" {
		prompt += replaceAll(previousSectionsBlock, map[string]string{
			"{dependent_sections_context}": dependentContext,
		})
	}

	var formatBlock string
	switch format {
	case doc.FormatTable:
		formatBlock = tablePrompt
	case doc.FormatChart:
		formatBlock = chartPrompt
	default:
		formatBlock = textPrompt
	}
	prompt += replaceAll(formatBlock, map[string]string{"{numbered_context}": numberedContext})

	raw, err := a.provider.Complete(ctx, llm.Request{
		Model:    a.model,
		System:   prompt,
		User:     fmt.Sprintf("Extract the %s.", meta.SectionName),
		JSONMode: format == doc.FormatTable || format == doc.FormatChart,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty response from generation call", doc.ErrAI)
	}
	return raw, nil
}

// PlanQueries generates 1–8 retrieval queries for a section. An empty
// list from the model is an error; the pipeline never retries the
// planner.
func (a *Agent) PlanQueries(ctx context.Context, meta SectionMeta) ([]string, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}

	prompt := replaceAll(plannerPrompt, map[string]string{
		"{context_date}":         a.contextDate(),
		"{project_description}":  meta.ProjectDescription,
		"{template_description}": meta.TemplateDescription,
		"{section_name}":         meta.SectionName,
		"{section_description}":  meta.SectionDescription,
	})

	raw, err := a.provider.Complete(ctx, llm.Request{
		Model:    a.model,
		System:   prompt,
		User:     "Plan retrieval.",
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: planner returned malformed JSON: %v", doc.ErrAI, err)
	}
	queries := parsed.Queries[:0:0]
	for _, q := range parsed.Queries {
		if strings.TrimSpace(q) != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return nil, doc.ErrNoQueries
	}
	if len(queries) > 8 {
		queries = queries[:8]
	}
	log.Info().Int("queries", len(queries)).Str("section", meta.SectionName).Msg("retrieval_planned")
	return queries, nil
}

// Analyze scores how well the context supported the generated answer.
// Failures never propagate: the result degrades to a zero score.
func (a *Agent) Analyze(ctx context.Context, meta SectionMeta, numberedContext, formattedResponse string) doc.Analysis {
	failed := doc.Analysis{Score: 0, Summary: "Analysis failed", Queries: []string{}}

	prompt := replaceAll(analysisPrompt, map[string]string{
		"{context_date}":         a.contextDate(),
		"{project_description}":  meta.ProjectDescription,
		"{template_description}": meta.TemplateDescription,
		"{section_name}":         meta.SectionName,
		"{section_description}":  meta.SectionDescription,
		"{formatted_response}":   formattedResponse,
		"{numbered_context}":     numberedContext,
	})

	raw, err := a.provider.Complete(ctx, llm.Request{
		Model:    a.smallModel,
		System:   "You are an evidence auditor. Return only valid JSON.",
		User:     prompt,
		JSONMode: true,
	})
	if err != nil {
		log.Error().Err(err).Str("section", meta.SectionName).Msg("analysis_call_failed")
		return failed
	}

	var result doc.Analysis
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		log.Error().Err(err).Str("section", meta.SectionName).Msg("analysis_decode_failed")
		return failed
	}
	if result.Queries == nil {
		result.Queries = []string{}
	}
	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	return result
}

// IntakeMeta infers document metadata from a content preview. Failure
// degrades to a generic Meta rather than failing ingestion.
func (a *Agent) IntakeMeta(ctx context.Context, preview, fileName string) doc.Meta {
	fallback := doc.Meta{DocType: "other", Blurb: "Document: " + fileName}

	if len(preview) > 2000 {
		preview = preview[:2000] + "..."
	}
	prompt := replaceAll(intakePrompt, map[string]string{"{document_text}": preview})

	raw, err := a.provider.Complete(ctx, llm.Request{
		Model:    a.smallModel,
		System:   prompt,
		User:     "Analyze this document.",
		JSONMode: true,
	})
	if err != nil {
		log.Error().Err(err).Str("file", fileName).Msg("intake_meta_failed")
		return fallback
	}

	var meta doc.Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		log.Error().Err(err).Str("file", fileName).Msg("intake_meta_decode_failed")
		return fallback
	}
	return meta
}

func replaceAll(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
