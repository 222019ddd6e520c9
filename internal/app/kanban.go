package app

import (
	"context"
	"fmt"
	"strings"

	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
)

var allowedTaskStatuses = map[string]struct{}{
	store.StatusToDo:       {},
	store.StatusInProgress: {},
	store.StatusDone:       {},
}

type TransitionInput struct {
	Status string `json:"status"`
}

// RequestTransition moves a task to any of the board columns. There is no
// transition graph and no version check: concurrent moves resolve to the last
// write.
func (s *Service) RequestTransition(ctx context.Context, actor Actor, taskID string, input TransitionInput) (map[string]any, error) {
	status := strings.TrimSpace(input.Status)
	if _, ok := allowedTaskStatuses[status]; !ok {
		return nil, validationError("Invalid task status", map[string]any{
			"allowed": []string{store.StatusToDo, store.StatusInProgress, store.StatusDone},
		})
	}

	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(actor.Role, rbac.ActionMoveTask) {
		return nil, ErrForbidden
	}
	if !inTeam(actor, task.TeamID) {
		return nil, ErrForbidden
	}

	updated, err := s.store.UpdateTaskStatus(ctx, task.ID, status, s.now().UTC())
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Task")
		}
		return nil, err
	}

	payload := taskPayload(updated)
	if updated.ProjectID != "" {
		s.publish(realtime.ProjectRoom(updated.ProjectID), "taskUpdated", payload)
	}
	s.publish(realtime.TaskRoom(updated.ID), "taskUpdated", payload)

	s.log.Info().Str("task", updated.ID).Str("from", task.Status).Str("to", updated.Status).Str("actor", actor.ID).Msg("task moved")
	return payload, nil
}

// AnnounceTask tells the project board about a newly created task and
// notifies its assignee.
func (s *Service) AnnounceTask(ctx context.Context, actor Actor, taskID string) (map[string]any, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !inTeam(actor, task.TeamID) {
		return nil, ErrForbidden
	}

	payload := taskPayload(task)
	if task.ProjectID != "" {
		s.publish(realtime.ProjectRoom(task.ProjectID), "taskCreated", payload)
	}

	if task.AssigneeID != "" {
		if _, ok, err := s.lookupUser(ctx, task.AssigneeID); err != nil {
			return nil, err
		} else if ok {
			message := fmt.Sprintf("You have been assigned to task: \"%s\"", task.Title)
			if _, err := s.notify(ctx, task.AssigneeID, message, "/member/tasks/"+task.ID); err != nil {
				return nil, err
			}
		}
	}
	return payload, nil
}
