package workflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"certrepo/internal/activity"
	"certrepo/internal/models"
	"certrepo/internal/notification"
	"certrepo/internal/records"
	dErrors "certrepo/pkg/domain-errors"
)

// OnUserStatusChanged records a user status change, tells the user about it
// and, the first time an issuing authority or client reviewer becomes active,
// sends a welcome notification. Equal statuses are a no-op.
func (o *Orchestrator) OnUserStatusChanged(ctx context.Context, userID string, oldStatus, newStatus models.UserStatus, role models.Role) (err error) {
	if oldStatus == newStatus {
		return nil
	}
	ctx, end := o.begin(ctx, "OnUserStatusChanged",
		attribute.String("user.id", userID),
		attribute.String("user.status", string(newStatus)))
	defer end(&err)

	var user *models.User
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := load(ctx, tx, records.CollectionUsers, "user", userID)
		if err != nil {
			return err
		}
		user = models.UserFromRecord(rec)
		return nil
	})
	if err != nil {
		return err
	}
	if role == "" {
		role = user.Role
	}

	key := "user_status:" + userID + ":" + string(newStatus) + ":" + records.FormatTime(user.UpdatedAt)
	o.record(ctx, activity.Entry{
		Key:      key,
		Type:     models.InteractionUserStatusChanged,
		FromRole: models.RoleAdministrator,
		ToRole:   role,
		EntityID: userID,
		Payload:  map[string]any{"oldStatus": string(oldStatus), "newStatus": string(newStatus)},
	})
	o.notify(ctx, userID, notification.Message{
		Key:     key,
		Type:    models.NotificationAccountStatus,
		Title:   "Account " + string(newStatus),
		Message: "Your account status changed from " + string(oldStatus) + " to " + string(newStatus) + ".",
		Data:    map[string]any{"oldStatus": string(oldStatus), "newStatus": string(newStatus)},
	})

	if newStatus == models.UserStatusActive && welcomes(role) {
		o.notify(ctx, userID, notification.Message{
			Key:     "welcome:" + userID,
			Type:    models.NotificationWelcome,
			Title:   "Welcome",
			Message: welcomeText(role),
			Data:    map[string]any{"role": string(role)},
		})
	}
	return nil
}

// ChangeUserStatus applies an administrative status change and then runs
// OnUserStatusChanged for it.
func (o *Orchestrator) ChangeUserStatus(ctx context.Context, userID string, next models.UserStatus, actorID string) (err error) {
	ctx, end := o.begin(ctx, "ChangeUserStatus",
		attribute.String("user.id", userID),
		attribute.String("user.status", string(next)))
	defer end(&err)

	var (
		user     *models.User
		previous models.UserStatus
	)
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx records.Tx) error {
		rec, err := load(ctx, tx, records.CollectionUsers, "user", userID)
		if err != nil {
			return err
		}
		user = models.UserFromRecord(rec)
		previous = user.Status
		if previous == next {
			return nil
		}
		if err := user.CanChangeStatus(next); err != nil {
			return err
		}
		user.ApplyStatus(next, o.now().UTC())
		return tx.Apply(ctx, records.Merge(records.CollectionUsers, userID, map[string]any{
			"status":    string(user.Status),
			"updatedAt": records.FormatTime(user.UpdatedAt),
		}))
	})
	if err != nil {
		return err
	}
	if previous == next {
		return nil
	}
	o.transitioned("user", string(next))
	o.logger.InfoContext(ctx, "user status changed",
		"user_id", userID,
		"actor_id", actorID,
		"old_status", string(previous),
		"new_status", string(next),
	)
	if err := o.OnUserStatusChanged(ctx, userID, previous, next, user.Role); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "status change follow-up")
	}
	return nil
}

func welcomes(role models.Role) bool {
	return role == models.RoleIssuingAuthority || role == models.RoleClientReviewer
}

func welcomeText(role models.Role) string {
	if role == models.RoleClientReviewer {
		return "Your reviewer account is active. Templates awaiting your review will appear in your queue."
	}
	return "Your issuing authority account is active. You can now verify documents and issue certificates."
}
