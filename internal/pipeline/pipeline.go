package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"groundline/internal/agent"
	"groundline/internal/doc"
	"groundline/internal/retrieve"
)

// SheetFetcher recovers persisted full sheets for files whose table
// matches were truncated at chunking time.
type SheetFetcher interface {
	SheetsForFiles(ctx context.Context, fileIDs []string) (SheetMap, error)
}

// ProgressFunc receives staged progress. Implementations must not
// block; the orchestrator serializes events through its own queue.
type ProgressFunc func(stage string, progress int, message string)

// Request is one section run.
type Request struct {
	SectionID string
	FileIDs   []string
	Meta      agent.SectionMeta
	Format    doc.OutputFormat
	Dependent []DependentResult
}

// Pipeline runs a section end to end: plan → search → context →
// generate → parse → score + analyze.
type Pipeline struct {
	agent            *agent.Agent
	executor         *retrieve.Executor
	builder          *Builder
	scorer           *Scorer
	sheets           SheetFetcher
	retrievalTimeout time.Duration
}

// New wires a pipeline from its stages.
func New(a *agent.Agent, executor *retrieve.Executor, builder *Builder, scorer *Scorer, sheets SheetFetcher, retrievalTimeout time.Duration) *Pipeline {
	return &Pipeline{
		agent:            a,
		executor:         executor,
		builder:          builder,
		scorer:           scorer,
		sheets:           sheets,
		retrievalTimeout: retrievalTimeout,
	}
}

// Run executes the staged pipeline, reporting fixed progress
// milestones. Cancellation surfaces as doc.ErrCancelled without an
// error event; all other failures emit error progress before
// returning. Exactly one terminal outcome is produced per run.
func (p *Pipeline) Run(ctx context.Context, req Request, report ProgressFunc) (doc.Outcome, error) {
	if report == nil {
		report = func(string, int, string) {}
	}
	start := time.Now()

	outcome, err := p.run(ctx, req, report)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, doc.ErrCancelled) {
			log.Info().Str("section_id", req.SectionID).Msg("pipeline_cancelled")
			return doc.Outcome{}, fmt.Errorf("%w: section %s", doc.ErrCancelled, req.SectionID)
		}
		log.Error().Err(err).Str("section_id", req.SectionID).Msg("pipeline_failed")
		report("error", -1, "Pipeline failed: "+err.Error())
		return doc.Outcome{}, err
	}

	log.Info().
		Str("section", req.Meta.SectionName).
		Dur("duration", time.Since(start)).
		Msg("pipeline_complete")
	return outcome, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, report ProgressFunc) (doc.Outcome, error) {
	retrievalCtx, cancel := context.WithTimeout(ctx, p.retrievalTimeout)
	defer cancel()

	report("planning", 10, "Planning")
	queries, err := p.agent.PlanQueries(retrievalCtx, req.Meta)
	if err != nil {
		return doc.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return doc.Outcome{}, err
	}

	report("searching", 25, "Searching")
	matches, err := p.executor.Search(retrievalCtx, queries, req.FileIDs)
	if err != nil {
		return doc.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return doc.Outcome{}, err
	}

	report("retrieving", 40, "Gathering")
	sheets, err := p.fetchSheets(retrievalCtx, matches)
	if err != nil {
		return doc.Outcome{}, err
	}
	contextText, sources := p.builder.Build(matches, sheets)
	if err := ctx.Err(); err != nil {
		return doc.Outcome{}, err
	}

	report("generating", 50, "Generating")
	dependent := FormatDependentSections(req.Dependent)
	raw, err := p.agent.GenerateResponse(ctx, req.Meta, contextText, req.Format, dependent)
	if err != nil {
		return doc.Outcome{}, err
	}
	response := ParseResponse(raw, req.Format)
	if err := ctx.Err(); err != nil {
		return doc.Outcome{}, err
	}

	report("finalizing", 75, "Finalizing")
	var (
		wg        sync.WaitGroup
		citations map[string]doc.Citation
		analysis  doc.Analysis
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		citations = p.scorer.ScoreResponse(ctx, &response, sources)
	}()
	go func() {
		defer wg.Done()
		analysis = p.agent.Analyze(ctx, req.Meta, contextText, FormatResponse(response))
	}()
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return doc.Outcome{}, err
	}

	// The terminal complete event is the orchestrator's to emit, along
	// with the persisted result.
	return doc.Outcome{
		Response:  response,
		Citations: citations,
		Analysis:  analysis,
	}, nil
}

// fetchSheets loads the persisted sheets for every file that has a
// truncated table match; other files never hit the store.
func (p *Pipeline) fetchSheets(ctx context.Context, matches []doc.Match) (SheetMap, error) {
	var fileIDs []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if m.Slice != nil && m.Slice.Truncated && !seen[m.File.ID] {
			seen[m.File.ID] = true
			fileIDs = append(fileIDs, m.File.ID)
		}
	}
	if len(fileIDs) == 0 {
		return SheetMap{}, nil
	}
	if p.sheets == nil {
		return SheetMap{}, nil
	}
	sheets, err := p.sheets.SheetsForFiles(ctx, fileIDs)
	if err != nil {
		// Recovery is best effort: the truncated chunk text still
		// stands in for the sheet.
		log.Error().Err(err).Strs("file_ids", fileIDs).Msg("sheet_recovery_failed")
		return SheetMap{}, nil
	}
	return sheets, nil
}
