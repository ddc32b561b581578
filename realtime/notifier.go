// Package realtime delivers push notifications when remote data changes,
// so the engine can drain and pull without waiting for a poll interval.
// The notifier is separate from the remote CRUD client to keep the sync
// logic agnostic of the notification mechanism.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"time"

	"github.com/gorilla/websocket"

	syncErrors "github.com/pitchside/teamsync/errors"
	"github.com/pitchside/teamsync/logging"
)

// Notification represents a real-time update notification
type Notification struct {
	// Type of notification (data_changed, sync_requested, etc.)
	Type string `json:"type"`

	// Table that changed, when known
	Table string `json:"table,omitempty"`

	// RecordIDs that were affected (optional, for filtering)
	RecordIDs []string `json:"record_ids,omitempty"`

	// Timestamp when the notification was created
	Timestamp time.Time `json:"timestamp"`
}

// NotificationHandler processes incoming real-time notifications
type NotificationHandler func(notification Notification) error

// Notifier subscribes to server-pushed change notifications.
type Notifier interface {
	// Subscribe starts listening; the handler is called as notifications
	// arrive until the context is cancelled or Close is called.
	Subscribe(ctx context.Context, handler NotificationHandler) error

	// IsConnected returns true if the real-time connection is active
	IsConnected() bool

	// Close closes the notifier connection
	Close() error
}

// BackoffStrategy defines how to handle reconnection delays
type BackoffStrategy interface {
	// NextDelay returns the delay before the next reconnection attempt
	NextDelay(attempt int) time.Duration

	// Reset resets the backoff strategy after a successful connection
	Reset()
}

// ExponentialBackoff implements exponential backoff capped at MaxDelay
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.InitialDelay)
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= eb.Multiplier
	}

	result := time.Duration(delay * multiplier)
	if result > eb.MaxDelay {
		result = eb.MaxDelay
	}

	return result
}

func (eb *ExponentialBackoff) Reset() {}

// Config configures the websocket notifier.
type Config struct {
	// URL of the websocket notification endpoint, e.g.
	// "wss://project.example.co/realtime/v1".
	URL string

	// APIKey sent as a header on the websocket handshake.
	APIKey string

	// Backoff governs reconnect delays. Defaults to exponential
	// 1s..30s x2 when nil.
	Backoff BackoffStrategy

	// MaxReconnects bounds consecutive failed reconnect attempts before
	// Subscribe gives up. Zero means unlimited.
	MaxReconnects int
}

// WebsocketNotifier implements Notifier over a websocket connection that
// carries JSON-encoded Notification frames.
type WebsocketNotifier struct {
	config Config
	logger *logging.Logger

	mu        stdSync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
}

var _ Notifier = (*WebsocketNotifier)(nil)

// NewWebsocketNotifier creates a notifier for the given config.
func NewWebsocketNotifier(config Config) *WebsocketNotifier {
	if config.Backoff == nil {
		config.Backoff = &ExponentialBackoff{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		}
	}
	return &WebsocketNotifier{
		config: config,
		logger: logging.WithComponent(logging.Component("realtime")),
	}
}

// Subscribe connects and dispatches notifications to the handler. It blocks
// until the context is cancelled, Close is called, or the reconnect budget
// is exhausted; transient connection drops are retried with backoff.
func (n *WebsocketNotifier) Subscribe(ctx context.Context, handler NotificationHandler) error {
	if handler == nil {
		return syncErrors.NewValidationError(syncErrors.OpPull, fmt.Errorf("notification handler is required"))
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n.isClosed() {
			return nil
		}

		err := n.run(ctx, handler)
		if err == nil {
			// Clean shutdown through context or Close.
			return nil
		}

		attempt++
		if n.config.MaxReconnects > 0 && attempt > n.config.MaxReconnects {
			return syncErrors.NewNetworkError(syncErrors.OpPull,
				fmt.Errorf("giving up after %d reconnect attempts: %w", attempt-1, err))
		}

		delay := n.config.Backoff.NextDelay(attempt - 1)
		n.logger.Warn("realtime connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// run performs one connect-read loop. A nil return means deliberate
// shutdown; an error means the connection dropped and should be retried.
func (n *WebsocketNotifier) run(ctx context.Context, handler NotificationHandler) error {
	header := map[string][]string{}
	if n.config.APIKey != "" {
		header["apikey"] = []string{n.config.APIKey}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, n.config.URL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		conn.Close()
		return nil
	}
	n.conn = conn
	n.connected = true
	n.mu.Unlock()

	n.config.Backoff.Reset()
	n.logger.Info("realtime connection established", slog.String("url", n.config.URL))

	defer func() {
		n.mu.Lock()
		n.connected = false
		n.conn = nil
		n.mu.Unlock()
		conn.Close()
	}()

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || n.isClosed() {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		var notification Notification
		if err := json.Unmarshal(payload, &notification); err != nil {
			n.logger.Warn("discarding malformed notification", slog.String("error", err.Error()))
			continue
		}

		if err := handler(notification); err != nil {
			n.logger.LogError(ctx, err, "notification handler failed",
				slog.String("type", notification.Type),
				slog.String("table", notification.Table),
			)
		}
	}
}

// IsConnected returns true if the real-time connection is active
func (n *WebsocketNotifier) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

// Close tears down the connection and stops reconnecting.
func (n *WebsocketNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

func (n *WebsocketNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
