package app

import (
	"time"

	"taskhub/api/internal/store"
)

// Wire payloads keep the field names the web client already reads: _id keys
// and populated user references.

func userRef(user store.User) map[string]any {
	return map[string]any{
		"_id":   user.ID,
		"name":  user.Name,
		"email": user.Email,
		"role":  user.Role,
	}
}

func commentPayload(comment store.Comment, author map[string]any) map[string]any {
	if author == nil {
		author = map[string]any{"_id": comment.AuthorID}
	}
	var parent any
	if comment.ParentID != nil {
		parent = *comment.ParentID
	}
	return map[string]any{
		"_id":           comment.ID,
		"task":          comment.TaskID,
		"user":          author,
		"text":          comment.Text,
		"parentComment": parent,
		"createdAt":     comment.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func notificationPayload(n store.Notification) map[string]any {
	var link any
	if n.Link != "" {
		link = n.Link
	}
	return map[string]any{
		"_id":       n.ID,
		"user":      n.RecipientID,
		"message":   n.Message,
		"link":      link,
		"read":      n.Read,
		"createdAt": n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func chatPayload(m store.ChatMessage, sender map[string]any) map[string]any {
	if sender == nil {
		sender = map[string]any{"_id": m.SenderID}
	}
	return map[string]any{
		"_id":       m.ID,
		"team":      m.TeamID,
		"sender":    sender,
		"text":      m.Text,
		"createdAt": m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func taskPayload(task store.Task) map[string]any {
	var assignee any
	if task.AssigneeID != "" {
		assignee = task.AssigneeID
	}
	return map[string]any{
		"_id":         task.ID,
		"title":       task.Title,
		"description": task.Description,
		"status":      task.Status,
		"assignee":    assignee,
		"project":     task.ProjectID,
		"team":        task.TeamID,
		"createdAt":   task.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":   task.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
