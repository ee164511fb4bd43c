// Package livecache mirrors session live views into Redis so other processes can
// poll a session without talking to the process that owns its browser.
package livecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/livelog"
)

const (
	connectTimeout = 5 * time.Second
	writeTimeout   = 5 * time.Second
)

// ErrNotFound is returned by Get when no view is cached for a session.
var ErrNotFound = errors.New("live view not found")

// Notification is published on the live channel after every mirrored update.
type Notification struct {
	SessionID string                `json:"session_id"`
	Status    schemas.SessionStatus `json:"status"`
	Turn      int                   `json:"turn"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Mirror writes live views to Redis from a background goroutine. Updates are
// coalesced per session: only the newest pending view is written.
type Mirror struct {
	client *redis.Client
	cfg    config.RedisConfig
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]schemas.LiveView
	// flushMu orders flushes so an older batch never lands after a newer one.
	flushMu sync.Mutex
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// New connects to Redis and starts the writer.
func New(cfg config.RedisConfig, logger *zap.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Mirror{
		client:  client,
		cfg:     cfg,
		logger:  logger.Named("livecache"),
		pending: make(map[string]schemas.LiveView),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()

	m.logger.Info("Live-view mirror connected.", zap.String("addr", cfg.Addr))
	return m, nil
}

// Attach mirrors every update of sink.
func (m *Mirror) Attach(sink *livelog.Sink) {
	sink.OnUpdate(m.Publish)
}

// Publish queues view for writing. It never blocks.
func (m *Mirror) Publish(view schemas.LiveView) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending[view.SessionID] = view
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Flush writes all queued views now.
func (m *Mirror) Flush(ctx context.Context) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]schemas.LiveView)
	m.mu.Unlock()

	var errs []error
	for _, view := range batch {
		if err := m.write(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get reads the mirrored view of a session.
func (m *Mirror) Get(ctx context.Context, sessionID string) (*schemas.LiveView, error) {
	raw, err := m.client.Get(ctx, m.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read live view: %w", err)
	}
	var view schemas.LiveView
	if err := json.UnmarshalFromString(raw, &view); err != nil {
		return nil, fmt.Errorf("failed to decode live view: %w", err)
	}
	return &view, nil
}

// Channel is the pub/sub channel notifications are published on.
func (m *Mirror) Channel() string {
	return m.cfg.KeyPrefix + "live"
}

// Close flushes pending views, stops the writer and closes the connection.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	flushErr := m.Flush(ctx)
	return errors.Join(flushErr, m.client.Close())
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := m.Flush(ctx); err != nil {
				m.logger.Warn("Failed to mirror live view.", zap.Error(err))
			}
			cancel()
		}
	}
}

func (m *Mirror) write(ctx context.Context, view schemas.LiveView) error {
	payload, err := json.MarshalToString(view)
	if err != nil {
		return fmt.Errorf("failed to encode live view for session %s: %w", view.SessionID, err)
	}
	note, err := json.MarshalToString(Notification{
		SessionID: view.SessionID,
		Status:    view.Status,
		Turn:      view.Turn,
		UpdatedAt: view.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification for session %s: %w", view.SessionID, err)
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.key(view.SessionID), payload, m.cfg.TTL)
		pipe.Publish(ctx, m.Channel(), note)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write live view for session %s: %w", view.SessionID, err)
	}
	return nil
}

func (m *Mirror) key(sessionID string) string {
	return m.cfg.KeyPrefix + "live:" + sessionID
}
