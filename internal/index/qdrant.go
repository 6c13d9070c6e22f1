package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"groundline/internal/config"
	"groundline/internal/doc"
)

// Qdrant point IDs must be UUIDs or unsigned integers, so the chunk key
// is hashed into a deterministic UUID and kept verbatim in the payload.
const payloadIDField = "_original_id"

// QdrantStore implements Store against a Qdrant collection. The Go
// client speaks Qdrant's gRPC API (port 6334 by default).
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimensions int
	embedder   Embedder
	batchSize  int
	batchDelay time.Duration
}

// NewQdrantStore connects to Qdrant, ensures the collection exists
// (cosine distance), and returns the store. The DSN is a URL; an API
// key may ride along as a query parameter
// ("https://host:6334?api_key=...").
func NewQdrantStore(cfg config.VectorConfig, embedder Embedder) (*QdrantStore, error) {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant DSN: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant DSN: %w", err)
	}

	qcfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		qcfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		qcfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		embedder:   embedder,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.RateLimitDelay,
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if s.dimensions <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointID(key string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String())
}

// Upsert implements Store. Chunks are embedded and written batchSize at
// a time with a pacing delay between batches. A failed batch write
// falls back to per-point writes; the first point that still fails ends
// the upsert with ErrRetrieval and the points after it are not written.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []doc.Chunk, namespace string, meta doc.Meta) error {
	total := 0
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = ChunkText(c)
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}

		points := make([]*qdrant.PointStruct, len(batch))
		for i, c := range batch {
			chunkIndex := start + i
			point, err := s.buildPoint(c, chunkIndex, vectors[i], namespace, meta)
			if err != nil {
				return err
			}
			points[i] = point
		}

		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		}); err != nil {
			// Replace point by point; conflicts converge to one
			// document per (file_id, chunk_index).
			log.Warn().Err(err).Int("points", len(points)).Msg("vector_batch_upsert_fallback")
			for _, p := range points {
				if _, perr := s.client.Upsert(ctx, &qdrant.UpsertPoints{
					CollectionName: s.collection,
					Points:         []*qdrant.PointStruct{p},
				}); perr != nil {
					return fmt.Errorf("%w: upsert point: %v", doc.ErrRetrieval, perr)
				}
			}
		}
		total += len(points)

		if end < len(chunks) && s.batchDelay > 0 {
			select {
			case <-time.After(s.batchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	log.Info().Int("vectors", total).Str("namespace", namespace).Msg("vector_upsert_complete")
	return nil
}

func (s *QdrantStore) buildPoint(c doc.Chunk, chunkIndex int, vector []float32, namespace string, meta doc.Meta) (*qdrant.PointStruct, error) {
	unitsJSON, err := json.Marshal(c.Units)
	if err != nil {
		return nil, fmt.Errorf("marshal units: %w", err)
	}
	key := ChunkKey(c.File.ID, chunkIndex)
	payload := map[string]any{
		payloadIDField: key,
		"units":        string(unitsJSON),
		"tokens":       int64(c.Tokens),
		"file_id":      c.File.ID,
		"file_name":    c.File.Name,
		"chunk_index":  int64(chunkIndex),
		"user_id":      namespace,
		"company":      meta.Company,
		"ticker":       meta.Ticker,
		"doc_type":     meta.DocType,
		"period_label": meta.PeriodLabel,
		"blurb":        meta.Blurb,
	}
	if c.Slice != nil {
		payload["sheet"] = c.Slice.Sheet
		payload["truncated"] = c.Slice.Truncated
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	return &qdrant.PointStruct{
		Id:      pointID(key),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(payload),
	}, nil
}

// Search implements Store.
func (s *QdrantStore) Search(ctx context.Context, query string, fileIDs []string, topK int, filters map[string]string) ([]doc.Match, error) {
	if err := ValidateTopK(topK); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || len(fileIDs) == 0 {
		return nil, fmt.Errorf("%w: query and file ids are required", doc.ErrValidation)
	}

	vec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	must := []*qdrant.Condition{qdrant.NewMatchKeywords("file_id", fileIDs...)}
	for k, v := range filters {
		if v != "" {
			must = append(must, qdrant.NewMatch(k, v))
		}
	}

	limit := uint64(topK)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: must},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", doc.ErrRetrieval, err)
	}

	matches := make([]doc.Match, 0, len(hits))
	for _, hit := range hits {
		m, err := matchFromPayload(hit.Payload, float64(hit.Score))
		if err != nil {
			log.Warn().Err(err).Msg("vector_match_decode_skip")
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func matchFromPayload(payload map[string]*qdrant.Value, score float64) (doc.Match, error) {
	get := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	getInt := func(k string) int {
		if v, ok := payload[k]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}

	var units []doc.Unit
	if raw := get("units"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &units); err != nil {
			return doc.Match{}, fmt.Errorf("unmarshal units: %w", err)
		}
	}

	m := doc.Match{
		ID:    get(payloadIDField),
		Score: clampScore(score),
		Chunk: doc.Chunk{
			File:   doc.File{ID: get("file_id"), Name: get("file_name")},
			Units:  units,
			Tokens: getInt("tokens"),
		},
		Meta: doc.Meta{
			Company:     get("company"),
			Ticker:      get("ticker"),
			DocType:     get("doc_type"),
			PeriodLabel: get("period_label"),
			Blurb:       get("blurb"),
		},
	}
	if sheet := get("sheet"); sheet != "" {
		truncated := false
		if v, ok := payload["truncated"]; ok {
			truncated = v.GetBoolValue()
		}
		m.Slice = &doc.Slice{Sheet: sheet, Truncated: truncated}
	}
	return m, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Delete implements Store: removes every point whose payload matches
// the file id and namespace. Deletion by filter leaves no partial
// state.
func (s *QdrantStore) Delete(ctx context.Context, fileID, namespace string) error {
	if fileID == "" || namespace == "" {
		return fmt.Errorf("%w: file id and namespace are required", doc.ErrValidation)
	}
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("file_id", fileID),
			qdrant.NewMatch("user_id", namespace),
		},
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: delete file vectors: %v", doc.ErrRetrieval, err)
	}
	log.Info().Str("file_id", fileID).Str("namespace", namespace).Msg("vector_delete_complete")
	return nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
