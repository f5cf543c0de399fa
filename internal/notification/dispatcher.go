// Package notification fans workflow messages out to users.
//
// Notifications are records in the notifications collection. Workflow
// messages carry a Key; the record id is derived from the key and the
// recipient, so a redelivered event rewrites nothing and a one-time message
// (such as a welcome) is stored at most once per user.
package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"certrepo/internal/models"
	"certrepo/internal/records"
	"certrepo/pkg/ids"
	"certrepo/pkg/platform/slices"
)

// Sender is the notification collaborator consumed by the surrounding
// application.
type Sender interface {
	Send(ctx context.Context, userID, title, message string, typ models.NotificationType, data map[string]any) error
}

// Message is one workflow notification before it is addressed.
type Message struct {
	// Key identifies the logical event; it must be stable across redeliveries.
	Key     string
	Type    models.NotificationType
	Title   string
	Message string
	Data    map[string]any
}

// Stats summarises dispatch outcomes since start.
type Stats struct {
	Sent          int64
	Failed        int64
	LastFailureAt time.Time
	LastError     string
}

// Dispatcher writes notifications to the record store.
type Dispatcher struct {
	store   records.Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu        sync.Mutex
	lastStamp time.Time
	lastErr   string
	lastErrAt time.Time
	sent      atomic.Int64
	failed    atomic.Int64
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a logger for dispatch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func NewDispatcher(store records.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send writes one ad-hoc notification with a fresh id.
func (d *Dispatcher) Send(ctx context.Context, userID, title, message string, typ models.NotificationType, data map[string]any) error {
	n := &models.Notification{
		ID:        ids.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		CreatedAt: d.stamp(),
	}
	return d.commit(ctx, []records.Mutation{records.Create(records.CollectionNotifications, n.ID, n.Fields())})
}

// Notify addresses msg to one user.
func (d *Dispatcher) Notify(ctx context.Context, userID string, msg Message) error {
	_, err := d.Fanout(ctx, []string{userID}, msg)
	return err
}

// Fanout addresses msg to every user in userIDs as one atomic batch. It
// returns the number of notifications in the batch.
func (d *Dispatcher) Fanout(ctx context.Context, userIDs []string, msg Message) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	if msg.Key == "" {
		return 0, fmt.Errorf("notification key is required")
	}
	created := d.stamp()
	recipients := slices.Unique(userIDs)
	mutations := make([]records.Mutation, 0, len(recipients))
	for _, userID := range recipients {
		n := &models.Notification{
			ID:        NotificationID(msg.Key, userID),
			UserID:    userID,
			Type:      msg.Type,
			Title:     msg.Title,
			Message:   msg.Message,
			Data:      msg.Data,
			CreatedAt: created,
		}
		mutations = append(mutations, records.Create(records.CollectionNotifications, n.ID, n.Fields()))
	}
	if err := d.commit(ctx, mutations); err != nil {
		return 0, err
	}
	return len(mutations), nil
}

// NotifyRole addresses msg to every active user holding role.
func (d *Dispatcher) NotifyRole(ctx context.Context, role models.Role, msg Message) (int, error) {
	users, err := d.store.Query(ctx, records.CollectionUsers,
		records.Where("role", records.OpEq, string(role)).And("status", records.OpEq, string(models.UserStatusActive)))
	if err != nil {
		return 0, fmt.Errorf("query %s recipients: %w", role, err)
	}
	userIDs := make([]string, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
	}
	return d.Fanout(ctx, userIDs, msg)
}

// Stats returns dispatch counters for health probes.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Sent:          d.sent.Load(),
		Failed:        d.failed.Load(),
		LastFailureAt: d.lastErrAt,
		LastError:     d.lastErr,
	}
}

// NotificationID is the record id of msg key addressed to userID.
func NotificationID(key, userID string) string {
	return ids.Derive("notification", key, userID)
}

func (d *Dispatcher) commit(ctx context.Context, mutations []records.Mutation) error {
	if err := d.store.BatchWrite(ctx, mutations); err != nil {
		d.failed.Add(int64(len(mutations)))
		d.mu.Lock()
		d.lastErr = err.Error()
		d.lastErrAt = d.now()
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.observeFailed(len(mutations))
		}
		d.logger.ErrorContext(ctx, "notification batch failed",
			"recipients", len(mutations),
			"error", err,
		)
		return fmt.Errorf("write notifications: %w", err)
	}
	d.sent.Add(int64(len(mutations)))
	if d.metrics != nil {
		d.metrics.observeSent(len(mutations))
	}
	return nil
}

// stamp returns a strictly increasing creation time so notifications written
// in sequence sort in that sequence.
func (d *Dispatcher) stamp() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now().UTC()
	if !now.After(d.lastStamp) {
		now = d.lastStamp.Add(time.Microsecond)
	}
	d.lastStamp = now
	return now
}

// ListForUser returns a user's notifications, oldest first.
func (d *Dispatcher) ListForUser(ctx context.Context, userID string) ([]*models.Notification, error) {
	recs, err := d.store.Query(ctx, records.CollectionNotifications, records.Where("userId", records.OpEq, userID))
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]*models.Notification, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.NotificationFromRecord(rec))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
