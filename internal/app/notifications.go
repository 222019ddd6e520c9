package app

import (
	"context"
	"fmt"
	"strings"

	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

type CreateNotificationInput struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
	Link    string `json:"link"`
}

func (s *Service) CreateNotification(ctx context.Context, actor Actor, input CreateNotificationInput) (map[string]any, error) {
	if !rbac.Can(actor.Role, rbac.ActionNotify) {
		return nil, ErrForbidden
	}
	recipientID := strings.TrimSpace(input.UserID)
	message := strings.TrimSpace(input.Message)
	if recipientID == "" || message == "" {
		return nil, validationError("userId and message are required", nil)
	}
	if _, ok, err := s.lookupUser(ctx, recipientID); err != nil {
		return nil, err
	} else if !ok {
		return nil, notFound("User")
	}

	n, err := s.notify(ctx, recipientID, message, strings.TrimSpace(input.Link))
	if err != nil {
		return nil, err
	}
	return notificationPayload(n), nil
}

// AnnounceInvitation notifies a user who has just been placed on a team.
// Team leads may only announce members of their own team.
func (s *Service) AnnounceInvitation(ctx context.Context, actor Actor, userID string) (map[string]any, error) {
	if !rbac.Can(actor.Role, rbac.ActionInvite) {
		return nil, ErrForbidden
	}
	user, ok, err := s.lookupUser(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("User")
	}
	if user.TeamID == "" {
		return nil, validationError("User is not part of a team", nil)
	}
	if !inTeam(actor, user.TeamID) {
		return nil, ErrForbidden
	}

	message := fmt.Sprintf("You have been added to a team as %s.", rbac.Normalize(user.Role))
	n, err := s.notify(ctx, user.ID, message, "/member/team")
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user", user.ID).Str("team", user.TeamID).Str("actor", actor.ID).Msg("team invitation announced")
	return notificationPayload(n), nil
}

// notify persists a notification and pushes it to the recipient's user room.
func (s *Service) notify(ctx context.Context, recipientID, message, link string) (store.Notification, error) {
	n := store.Notification{
		ID:          util.NewID("ntf"),
		RecipientID: recipientID,
		Message:     message,
		Link:        link,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return store.Notification{}, err
	}
	s.publish(realtime.UserRoom(recipientID), "newNotification", notificationPayload(n))
	return n, nil
}

func (s *Service) ownedNotification(ctx context.Context, actor Actor, notificationID string) (store.Notification, error) {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Notification{}, notFound("Notification")
		}
		return store.Notification{}, fmt.Errorf("load notification: %w", err)
	}
	if !actor.ActsFor(n.RecipientID) {
		return store.Notification{}, ErrForbidden
	}
	return n, nil
}

// MarkNotificationRead is one-way; marking an already read notification
// succeeds and leaves it read.
func (s *Service) MarkNotificationRead(ctx context.Context, actor Actor, notificationID string) (map[string]any, error) {
	n, err := s.ownedNotification(ctx, actor, notificationID)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return notificationPayload(n), nil
	}
	updated, err := s.store.MarkNotificationRead(ctx, n.ID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Notification")
		}
		return nil, err
	}
	return notificationPayload(updated), nil
}

// ListNotifications returns newest first. A blank recipient means the actor.
func (s *Service) ListNotifications(ctx context.Context, actor Actor, recipientID string) ([]map[string]any, error) {
	recipientID, err := s.recipientFor(actor, recipientID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListNotifications(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, n := range items {
		out = append(out, notificationPayload(n))
	}
	return out, nil
}

func (s *Service) UnreadNotificationCount(ctx context.Context, actor Actor, recipientID string) (int, error) {
	recipientID, err := s.recipientFor(actor, recipientID)
	if err != nil {
		return 0, err
	}
	return s.store.UnreadNotificationCount(ctx, recipientID)
}

func (s *Service) DeleteNotification(ctx context.Context, actor Actor, notificationID string) error {
	n, err := s.ownedNotification(ctx, actor, notificationID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteNotification(ctx, n.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Notification")
	}
	return nil
}

func (s *Service) recipientFor(actor Actor, recipientID string) (string, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" || recipientID == actor.ID {
		return actor.ID, nil
	}
	if !actor.ActsFor(recipientID) {
		return "", ErrForbidden
	}
	return recipientID, nil
}
