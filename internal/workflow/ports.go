package workflow

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Notifier,ActivityRecorder

import (
	"context"

	"certrepo/internal/activity"
	"certrepo/internal/models"
	"certrepo/internal/notification"
)

// Notifier fans workflow messages out to users. notification.Dispatcher is the
// production implementation.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg notification.Message) error
	NotifyRole(ctx context.Context, role models.Role, msg notification.Message) (int, error)
}

// ActivityRecorder appends interaction records. activity.Recorder is the
// production implementation.
type ActivityRecorder interface {
	Record(ctx context.Context, e activity.Entry) error
}
