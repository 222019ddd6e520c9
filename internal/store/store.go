package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore is the persistence collaborator for the collaboration core. Every
// query is written with ? placeholders and rebound for the open driver.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, name, email, role, COALESCE(team_id, '') AS team_id, created_at`

func (s *SQLStore) InsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO users (id, name, email, role, team_id, created_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)
	`), user.ID, user.Name, user.Email, user.Role, user.TeamID, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, s.q(`SELECT `+userColumns+` FROM users WHERE id=?`), userID)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *SQLStore) InsertTeam(ctx context.Context, team Team) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO teams (id, name, team_lead_id, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?)
	`), team.ID, team.Name, team.TeamLeadID, team.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO projects (id, title, team_id, created_at)
		VALUES (?, ?, ?, ?)
	`), project.ID, project.Title, project.TeamID, project.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

const taskColumns = `id, title, description, status, COALESCE(assignee_id, '') AS assignee_id, project_id, team_id, created_at, updated_at`

func (s *SQLStore) InsertTask(ctx context.Context, task Task) error {
	status := task.Status
	if status == "" {
		status = StatusToDo
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO tasks (id, title, description, status, assignee_id, project_id, team_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
	`), task.ID, task.Title, task.Description, status, task.AssigneeID, task.ProjectID, task.TeamID, task.CreatedAt.UTC(), task.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.GetContext(ctx, &task, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), taskID)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// UpdateTaskStatus overwrites the status unconditionally; concurrent callers
// serialize on the row and the last write wins. The read shares the update's
// transaction so the returned row is the one this call wrote.
func (s *SQLStore) UpdateTaskStatus(ctx context.Context, taskID, status string, at time.Time) (Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin task status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, s.q(`UPDATE tasks SET status=?, updated_at=? WHERE id=?`), status, at.UTC(), taskID)
	if err != nil {
		return Task{}, fmt.Errorf("update task status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Task{}, fmt.Errorf("update task status rows: %w", err)
	}
	if affected == 0 {
		return Task{}, sql.ErrNoRows
	}

	var task Task
	if err := tx.GetContext(ctx, &task, s.q(`SELECT `+taskColumns+` FROM tasks WHERE id=?`), taskID); err != nil {
		return Task{}, fmt.Errorf("reload task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit task status: %w", err)
	}
	return task, nil
}

func (s *SQLStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.GetContext(ctx, &project, s.q(`SELECT id, title, team_id, created_at FROM projects WHERE id=?`), projectID)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

const commentColumns = `id, task_id, author_id, body, parent_id, created_at`

func (s *SQLStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO comments (id, task_id, author_id, body, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), comment.ID, comment.TaskID, comment.AuthorID, comment.Text, comment.ParentID, comment.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *SQLStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.GetContext(ctx, &comment, s.q(`SELECT `+commentColumns+` FROM comments WHERE id=?`), commentID)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (s *SQLStore) ListTaskComments(ctx context.Context, taskID string) ([]Comment, error) {
	items := make([]Comment, 0)
	err := s.db.SelectContext(ctx, &items, s.q(`
		SELECT `+commentColumns+`
		FROM comments
		WHERE task_id=?
		ORDER BY created_at ASC, id ASC
	`), taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return items, nil
}

func (s *SQLStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	return s.deleteByID(ctx, "comments", commentID)
}

const notificationColumns = `id, recipient_id, message, COALESCE(link, '') AS link, is_read, created_at`

func (s *SQLStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO notifications (id, recipient_id, message, link, is_read, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
	`), n.ID, n.RecipientID, n.Message, n.Link, n.Read, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQLStore) GetNotification(ctx context.Context, notificationID string) (Notification, error) {
	var n Notification
	err := s.db.GetContext(ctx, &n, s.q(`SELECT `+notificationColumns+` FROM notifications WHERE id=?`), notificationID)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// MarkNotificationRead sets the read flag. It never clears it, so repeated
// calls converge on read=true.
func (s *SQLStore) MarkNotificationRead(ctx context.Context, notificationID string) (Notification, error) {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE notifications SET is_read=? WHERE id=?`), true, notificationID)
	if err != nil {
		return Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Notification{}, fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return Notification{}, sql.ErrNoRows
	}
	return s.GetNotification(ctx, notificationID)
}

func (s *SQLStore) ListNotifications(ctx context.Context, recipientID string) ([]Notification, error) {
	items := make([]Notification, 0)
	err := s.db.SelectContext(ctx, &items, s.q(`
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id=?
		ORDER BY created_at DESC, id DESC
	`), recipientID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

func (s *SQLStore) UnreadNotificationCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.q(`SELECT COUNT(*) FROM notifications WHERE recipient_id=? AND is_read=?`), recipientID, false)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *SQLStore) DeleteNotification(ctx context.Context, notificationID string) (bool, error) {
	return s.deleteByID(ctx, "notifications", notificationID)
}

const chatColumns = `id, team_id, sender_id, body, created_at`

func (s *SQLStore) InsertChatMessage(ctx context.Context, m ChatMessage) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO chat_messages (id, team_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), m.ID, m.TeamID, m.SenderID, m.Text, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *SQLStore) GetChatMessage(ctx context.Context, messageID string) (ChatMessage, error) {
	var m ChatMessage
	err := s.db.GetContext(ctx, &m, s.q(`SELECT `+chatColumns+` FROM chat_messages WHERE id=?`), messageID)
	if err != nil {
		return ChatMessage{}, err
	}
	return m, nil
}

func (s *SQLStore) ListTeamMessages(ctx context.Context, teamID string) ([]ChatMessage, error) {
	items := make([]ChatMessage, 0)
	err := s.db.SelectContext(ctx, &items, s.q(`
		SELECT `+chatColumns+`
		FROM chat_messages
		WHERE team_id=?
		ORDER BY created_at ASC, id ASC
	`), teamID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return items, nil
}

func (s *SQLStore) DeleteChatMessage(ctx context.Context, messageID string) (bool, error) {
	return s.deleteByID(ctx, "chat_messages", messageID)
}

func (s *SQLStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	var exists int
	err := s.db.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM revoked_access_tokens WHERE jti=?`), jti)
	if err != nil {
		return fmt.Errorf("check revoked token: %w", err)
	}
	if exists > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO revoked_access_tokens (jti, expires_at) VALUES (?, ?)`), jti, exp.UTC()); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *SQLStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.q(`SELECT COUNT(*) FROM revoked_access_tokens WHERE jti=?`), jti)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}

// deleteByID reports false when no row matched. table is always a constant.
func (s *SQLStore) deleteByID(ctx context.Context, table, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE id=?`), id)
	if err != nil {
		return false, fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete from %s rows: %w", table, err)
	}
	return affected > 0, nil
}

// IsNotFound reports whether err is the store's missing-row signal.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
