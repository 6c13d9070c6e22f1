// Package section runs the cancellable, progress-emitting section
// jobs: durable state, concurrency gates, streaming, and abort.
package section

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"groundline/internal/config"
	"groundline/internal/doc"
	"groundline/internal/pipeline"
)

// JobState is the durable per-section record that lets a client
// reconnect to a run in flight or pick up a finished result.
type JobState struct {
	SectionID           string                     `json:"section_id"`
	ProcessingID        string                     `json:"processing_id"`
	Tenant              string                     `json:"tenant"`
	FileIDs             []string                   `json:"file_ids"`
	SectionName         string                     `json:"section_name"`
	SectionDescription  string                     `json:"section_description"`
	TemplateDescription string                     `json:"template_description"`
	ProjectDescription  string                     `json:"project_description"`
	OutputFormat        doc.OutputFormat           `json:"output_format"`
	Dependent           []pipeline.DependentResult `json:"dependent_section_results,omitempty"`
	Cancelled           bool                       `json:"cancelled"`
	Status              string                     `json:"status,omitempty"`
	Progress            int                        `json:"progress,omitempty"`
	Message             string                     `json:"message,omitempty"`
	Timestamp           float64                    `json:"timestamp"`
	Result              *doc.Outcome               `json:"result,omitempty"`
}

// StateStore persists job state with a TTL. Implementations must be
// safe for concurrent use.
type StateStore interface {
	Set(ctx context.Context, key string, state *JobState, ttl time.Duration) error
	Get(ctx context.Context, key string) (*JobState, error)
	Delete(ctx context.Context, key string) error
}

// JobKey derives the durable key for a section job.
func JobKey(sectionID string) string {
	return "job:section:" + sectionID
}

// MemoryState is the in-process fallback store used when Redis is not
// configured, and the store tests run against.
type MemoryState struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
}

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// NewMemoryState builds an empty memory store.
func NewMemoryState() *MemoryState {
	return &MemoryState{data: make(map[string]memoryEntry)}
}

func (m *MemoryState) Set(_ context.Context, key string, state *JobState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	m.mu.Lock()
	m.data[key] = memoryEntry{payload: payload, expires: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryState) Get(_ context.Context, key string) (*JobState, error) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, nil
	}
	var state JobState
	if err := json.Unmarshal(entry.payload, &state); err != nil {
		return nil, fmt.Errorf("unmarshal job state: %w", err)
	}
	return &state, nil
}

func (m *MemoryState) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// RedisState persists job state in Redis so runs survive reconnects
// across process restarts.
type RedisState struct {
	client *redis.Client
}

// NewRedisState connects and pings the configured Redis.
func NewRedisState(cfg config.RedisConfig) (*RedisState, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisState{client: client}, nil
}

func (r *RedisState) Set(ctx context.Context, key string, state *JobState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("state_set_error")
		return fmt.Errorf("%w: state set: %v", doc.ErrStorage, err)
	}
	return nil
}

func (r *RedisState) Get(ctx context.Context, key string) (*JobState, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("state_get_error")
		return nil, fmt.Errorf("%w: state get: %v", doc.ErrStorage, err)
	}
	var state JobState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("unmarshal job state: %w", err)
	}
	return &state, nil
}

func (r *RedisState) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: state delete: %v", doc.ErrStorage, err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *RedisState) Close() error {
	return r.client.Close()
}
