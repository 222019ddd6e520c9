package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

type CreateCommentInput struct {
	TaskID        string  `json:"taskId"`
	Text          string  `json:"text"`
	ParentComment *string `json:"parentComment"`
}

// CommentNode is one comment in a listed thread with its direct replies in
// creation order.
type CommentNode struct {
	ID            string         `json:"_id"`
	Task          string         `json:"task"`
	User          map[string]any `json:"user"`
	Text          string         `json:"text"`
	ParentComment *string        `json:"parentComment"`
	CreatedAt     time.Time      `json:"createdAt"`
	Replies       []*CommentNode `json:"replies"`
}

// inTeam reports whether actor may act on resources owned by teamID.
func inTeam(actor Actor, teamID string) bool {
	return rbac.SameTeam(actor.TeamID, teamID) || rbac.Can(actor.Role, rbac.ActionCrossTeam)
}

func canSeeTask(actor Actor, task store.Task) bool {
	return inTeam(actor, task.TeamID) || (task.AssigneeID != "" && task.AssigneeID == actor.ID)
}

func actorRef(actor Actor) map[string]any {
	return map[string]any{"_id": actor.ID, "name": actor.Name, "role": string(actor.Role)}
}

func (s *Service) CreateComment(ctx context.Context, actor Actor, input CreateCommentInput) (map[string]any, error) {
	taskID := strings.TrimSpace(input.TaskID)
	text := strings.TrimSpace(input.Text)
	if taskID == "" {
		return nil, validationError("taskId is required", nil)
	}
	if text == "" {
		return nil, validationError("Comment text is required", nil)
	}
	if !rbac.Can(actor.Role, rbac.ActionComment) {
		return nil, ErrForbidden
	}

	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !canSeeTask(actor, task) {
		return nil, ErrForbidden
	}

	var parentID *string
	if input.ParentComment != nil && strings.TrimSpace(*input.ParentComment) != "" {
		id := strings.TrimSpace(*input.ParentComment)
		parent, err := s.store.GetComment(ctx, id)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, ErrInvalidParent
			}
			return nil, fmt.Errorf("load parent comment: %w", err)
		}
		if parent.TaskID != task.ID {
			return nil, ErrInvalidParent
		}
		parentID = &id
	}

	comment := store.Comment{
		ID:        util.NewID("cmt"),
		TaskID:    task.ID,
		AuthorID:  actor.ID,
		Text:      text,
		ParentID:  parentID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	if task.AssigneeID != "" && task.AssigneeID != actor.ID {
		s.notifyAssigneeOfComment(ctx, actor, task)
	}

	payload := commentPayload(comment, actorRef(actor))
	s.publish(realtime.TaskRoom(task.ID), "commentCreated", payload)
	return payload, nil
}

// RelayCommentInput is a live comment pushed over the socket. With a
// CommentID it names a comment the actor already saved; otherwise Text is
// saved first.
type RelayCommentInput struct {
	TaskID        string
	CommentID     string
	Text          string
	ParentComment *string
}

// RelayComment publishes receiveComment into the task room. Only saved
// comments are relayed, and the author always comes from the store.
func (s *Service) RelayComment(ctx context.Context, actor Actor, input RelayCommentInput) (map[string]any, error) {
	taskID := strings.TrimSpace(input.TaskID)
	if taskID == "" {
		return nil, validationError("taskId is required", nil)
	}

	commentID := strings.TrimSpace(input.CommentID)
	if commentID == "" {
		payload, err := s.CreateComment(ctx, actor, CreateCommentInput{TaskID: taskID, Text: input.Text, ParentComment: input.ParentComment})
		if err != nil {
			return nil, err
		}
		s.publish(realtime.TaskRoom(taskID), "receiveComment", payload)
		return payload, nil
	}

	if !rbac.Can(actor.Role, rbac.ActionComment) {
		return nil, ErrForbidden
	}
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !canSeeTask(actor, task) {
		return nil, ErrForbidden
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Comment")
		}
		return nil, fmt.Errorf("load comment: %w", err)
	}
	if comment.TaskID != task.ID {
		return nil, notFound("Comment")
	}
	if comment.AuthorID != actor.ID {
		return nil, ErrForbidden
	}

	payload := commentPayload(comment, actorRef(actor))
	s.publish(realtime.TaskRoom(task.ID), "receiveComment", payload)
	return payload, nil
}

// The comment is already stored when this runs, so failures are logged and
// the create still succeeds.
func (s *Service) notifyAssigneeOfComment(ctx context.Context, actor Actor, task store.Task) {
	_, ok, err := s.lookupUser(ctx, task.AssigneeID)
	if err != nil {
		s.log.Error().Err(err).Str("task", task.ID).Msg("load assignee for comment notification")
		return
	}
	if !ok {
		return
	}
	message := fmt.Sprintf("%s commented on task \"%s\"", actor.Name, task.Title)
	if _, err := s.notify(ctx, task.AssigneeID, message, "/tasks/"+task.ID); err != nil {
		s.log.Error().Err(err).Str("task", task.ID).Str("recipient", task.AssigneeID).Msg("create comment notification")
	}
}

// ListThreaded builds the task's comment forest in two passes. Comments whose
// parent is missing are promoted to roots.
func (s *Service) ListThreaded(ctx context.Context, actor Actor, taskID string) ([]*CommentNode, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !canSeeTask(actor, task) {
		return nil, ErrForbidden
	}
	items, err := s.store.ListTaskComments(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	authors := make(map[string]map[string]any)
	for _, c := range items {
		if _, seen := authors[c.AuthorID]; seen {
			continue
		}
		user, ok, err := s.lookupUser(ctx, c.AuthorID)
		if err != nil {
			return nil, err
		}
		if ok {
			authors[c.AuthorID] = userRef(user)
		} else {
			authors[c.AuthorID] = map[string]any{"_id": c.AuthorID}
		}
	}

	return buildThreads(items, authors), nil
}

func buildThreads(items []store.Comment, authors map[string]map[string]any) []*CommentNode {
	nodes := make(map[string]*CommentNode, len(items))
	for _, c := range items {
		nodes[c.ID] = &CommentNode{
			ID:            c.ID,
			Task:          c.TaskID,
			User:          authors[c.AuthorID],
			Text:          c.Text,
			ParentComment: c.ParentID,
			CreatedAt:     c.CreatedAt.UTC(),
			Replies:       []*CommentNode{},
		}
	}

	roots := make([]*CommentNode, 0)
	for _, c := range items {
		node := nodes[c.ID]
		if c.ParentID != nil && *c.ParentID != c.ID {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Replies = append(parent.Replies, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// DeleteComment removes the comment and its whole reply subtree, deepest
// first. It is not atomic: a failure part way leaves the remaining nodes in
// place and returns the error.
func (s *Service) DeleteComment(ctx context.Context, actor Actor, commentID string) (map[string]any, error) {
	target, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, notFound("Comment")
		}
		return nil, fmt.Errorf("load comment: %w", err)
	}
	if target.AuthorID != actor.ID && !rbac.Can(actor.Role, rbac.ActionDeleteAnyComment) {
		return nil, ErrForbidden
	}

	siblings, err := s.store.ListTaskComments(ctx, target.TaskID)
	if err != nil {
		return nil, err
	}
	order := cascadeOrder(target.ID, siblings)

	deleted := make([]string, 0, len(order))
	for _, id := range order {
		if _, err := s.store.DeleteComment(ctx, id); err != nil {
			s.log.Error().Err(err).Str("comment", id).Int("deleted", len(deleted)).Msg("cascade delete interrupted")
			return nil, fmt.Errorf("delete comment %s: %w", id, err)
		}
		deleted = append(deleted, id)
	}

	s.publish(realtime.TaskRoom(target.TaskID), "commentDeleted", map[string]any{
		"id":         target.ID,
		"taskId":     target.TaskID,
		"deletedIds": deleted,
	})
	return map[string]any{
		"message":    "Comment and its replies deleted",
		"deletedIds": deleted,
	}, nil
}

// cascadeOrder lists rootID and its descendants so that every reply comes
// before its parent and rootID comes last. The visited set stops the walk on
// a corrupt parent cycle.
func cascadeOrder(rootID string, comments []store.Comment) []string {
	children := make(map[string][]string)
	for _, c := range comments {
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}

	visited := map[string]bool{rootID: true}
	preorder := []string{}
	stack := []string{rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		preorder = append(preorder, id)
		for _, child := range children[id] {
			if visited[child] {
				continue
			}
			visited[child] = true
			stack = append(stack, child)
		}
	}

	order := make([]string, len(preorder))
	for i, id := range preorder {
		order[len(preorder)-1-i] = id
	}
	return order
}
