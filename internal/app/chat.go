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

type SendMessageInput struct {
	TeamID string `json:"teamId"`
	Text   string `json:"text"`
}

// SendMessage appends to the sender's team log. A blank team id means the
// sender's own team.
func (s *Service) SendMessage(ctx context.Context, actor Actor, input SendMessageInput) (map[string]any, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, validationError("Message text is required", nil)
	}
	if !rbac.Can(actor.Role, rbac.ActionChat) {
		return nil, ErrForbidden
	}
	if actor.TeamID == "" {
		return nil, ErrNoTeam
	}
	teamID := strings.TrimSpace(input.TeamID)
	if teamID == "" {
		teamID = actor.TeamID
	}
	if teamID != actor.TeamID {
		return nil, ErrTeamMismatch
	}

	message := store.ChatMessage{
		ID:        util.NewID("msg"),
		TeamID:    teamID,
		SenderID:  actor.ID,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertChatMessage(ctx, message); err != nil {
		return nil, err
	}

	payload := chatPayload(message, actorRef(actor))
	s.publish(realtime.TeamRoom(teamID), "receiveMessage", payload)
	return payload, nil
}

// ListMessages returns the actor's team log oldest first, or nothing for a
// teamless actor.
func (s *Service) ListMessages(ctx context.Context, actor Actor) ([]map[string]any, error) {
	out := make([]map[string]any, 0)
	if actor.TeamID == "" {
		return out, nil
	}
	items, err := s.store.ListTeamMessages(ctx, actor.TeamID)
	if err != nil {
		return nil, err
	}
	senders := make(map[string]map[string]any)
	for _, m := range items {
		sender, seen := senders[m.SenderID]
		if !seen {
			user, ok, err := s.lookupUser(ctx, m.SenderID)
			if err != nil {
				return nil, err
			}
			if ok {
				sender = userRef(user)
			}
			senders[m.SenderID] = sender
		}
		out = append(out, chatPayload(m, sender))
	}
	return out, nil
}

func (s *Service) DeleteMessage(ctx context.Context, actor Actor, messageID string) error {
	message, err := s.store.GetChatMessage(ctx, messageID)
	if err != nil {
		if store.IsNotFound(err) {
			return notFound("Message")
		}
		return fmt.Errorf("load chat message: %w", err)
	}
	if message.SenderID != actor.ID && !rbac.Can(actor.Role, rbac.ActionDeleteAnyMessage) {
		return ErrForbidden
	}
	deleted, err := s.store.DeleteChatMessage(ctx, message.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Message")
	}
	s.publish(realtime.TeamRoom(message.TeamID), "messageDeleted", map[string]any{
		"id":     message.ID,
		"teamId": message.TeamID,
	})
	return nil
}
