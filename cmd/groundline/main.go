// Command groundline exercises the document pipeline from a terminal:
// ingest a registered file, run a section against ingested files, or
// delete a file's index entries.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"groundline/internal/agent"
	"groundline/internal/config"
	"groundline/internal/convert"
	"groundline/internal/doc"
	"groundline/internal/index"
	"groundline/internal/ingest"
	"groundline/internal/llm"
	"groundline/internal/parse"
	"groundline/internal/pipeline"
	"groundline/internal/retrieve"
	"groundline/internal/section"
	"groundline/internal/storage"
	"groundline/internal/tokenizer"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load(os.Getenv("GROUNDLINE_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("config_load_failed")
	}

	app, err := wire(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("wiring_failed")
	}

	ctx := context.Background()
	switch cmd {
	case "ingest":
		err = runIngest(ctx, app, args)
	case "section":
		err = runSection(ctx, app, args)
	case "delete":
		err = runDelete(ctx, app, args)
	default:
		usage()
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("command_failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: groundline <ingest|section|delete> [flags]")
	os.Exit(2)
}

// app holds the process-wide singletons.
type app struct {
	cfg      config.Config
	ingester *ingest.Service
	sections *section.Service
	vectors  index.Store
}

func wire(cfg config.Config) (*app, error) {
	counter, err := tokenizer.New(cfg.Parse.TokenizerEncoding)
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(cfg.AI)
	embedder := index.NewBatchEmbedder(client, cfg.Vector)
	vectors, err := index.NewQdrantStore(cfg.Vector, embedder)
	if err != nil {
		return nil, err
	}

	pool, err := storage.Connect(context.Background(), cfg.Database.ConnectionString)
	if err != nil {
		return nil, err
	}
	files := storage.NewFileStore(pool)

	blobs, err := storage.NewS3Blob(context.Background(), cfg.S3)
	if err != nil {
		return nil, err
	}

	ocr := convert.NewHTTPOCRClient(cfg.OCR)
	converter := convert.NewHTTPConverter(cfg.Converter)
	parser := parse.NewParser(cfg.Parse, counter, ocr)
	a := agent.New(client, cfg.AI.Model, cfg.AI.SmallModel)

	var state section.StateStore
	if cfg.Redis.Enabled {
		state, err = section.NewRedisState(cfg.Redis)
		if err != nil {
			return nil, err
		}
	} else {
		state = section.NewMemoryState()
	}

	pipe := pipeline.New(
		a,
		retrieve.NewExecutor(vectors, cfg.Retrieval.TopKPerQuery),
		pipeline.NewBuilder(cfg.Retrieval.ContextMaxTokens, cfg.Parse.LineGapThreshold),
		pipeline.NewScorer(embedder, cfg.Retrieval.NumberMatchBoost),
		files,
		cfg.Retrieval.Timeout,
	)

	return &app{
		cfg:      cfg,
		ingester: ingest.NewService(parser, a, vectors, files, blobs, converter, cfg.Jobs),
		sections: section.NewService(pipe, state, cfg.Jobs),
		vectors:  vectors,
	}, nil
}

func runIngest(ctx context.Context, app *app, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fileID := fs.String("file", "", "file id to process")
	namespace := fs.String("namespace", "", "tenant namespace")
	fs.Parse(args)
	if *fileID == "" || *namespace == "" {
		return fmt.Errorf("-file and -namespace are required")
	}

	meta, err := app.ingester.ProcessFile(ctx, *fileID, *namespace)
	if err != nil {
		return err
	}
	return printJSON(meta)
}

func runSection(ctx context.Context, app *app, args []string) error {
	fs := flag.NewFlagSet("section", flag.ExitOnError)
	sectionID := fs.String("id", "", "section id")
	namespace := fs.String("namespace", "", "tenant namespace")
	name := fs.String("name", "", "section name")
	description := fs.String("description", "", "section description")
	template := fs.String("template", "", "template description")
	project := fs.String("project", "", "project description")
	format := fs.String("format", "text", "output format: text|table|chart")
	fileList := fs.String("files", "", "comma-separated file ids")
	fs.Parse(args)
	if *sectionID == "" || *namespace == "" || *fileList == "" {
		return fmt.Errorf("-id, -namespace, and -files are required")
	}

	processingID, err := app.sections.Init(ctx, section.InitRequest{
		SectionID:           *sectionID,
		Tenant:              *namespace,
		FileIDs:             strings.Split(*fileList, ","),
		SectionName:         *name,
		SectionDescription:  *description,
		TemplateDescription: *template,
		ProjectDescription:  *project,
		OutputFormat:        doc.OutputFormat(*format),
	})
	if err != nil {
		return err
	}
	log.Info().Str("processing_id", processingID).Msg("section_started")

	events, err := app.sections.Stream(ctx, *sectionID, *namespace)
	if err != nil {
		return err
	}
	for event := range events {
		if event.Stage == section.StageComplete {
			if result, ok := event.Details["result"]; ok {
				return printJSON(result)
			}
		}
		log.Info().
			Str("stage", event.Stage).
			Int("progress", event.Progress).
			Msg(event.Message)
	}
	return nil
}

func runDelete(ctx context.Context, app *app, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	fileID := fs.String("file", "", "file id to delete")
	namespace := fs.String("namespace", "", "tenant namespace")
	fs.Parse(args)
	if *fileID == "" || *namespace == "" {
		return fmt.Errorf("-file and -namespace are required")
	}
	return app.ingester.DeleteFile(ctx, *fileID, *namespace)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
