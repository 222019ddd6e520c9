package store

import "time"

const (
	StatusToDo       = "To Do"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
)

type User struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Role      string    `db:"role"`
	TeamID    string    `db:"team_id"`
	CreatedAt time.Time `db:"created_at"`
}

type Team struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	TeamLeadID string    `db:"team_lead_id"`
	CreatedAt  time.Time `db:"created_at"`
}

type Project struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	TeamID    string    `db:"team_id"`
	CreatedAt time.Time `db:"created_at"`
}

type Task struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	AssigneeID  string    `db:"assignee_id"`
	ProjectID   string    `db:"project_id"`
	TeamID      string    `db:"team_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Comment is one node of a task's discussion. ParentID is nil for roots.
type Comment struct {
	ID        string    `db:"id"`
	TaskID    string    `db:"task_id"`
	AuthorID  string    `db:"author_id"`
	Text      string    `db:"body"`
	ParentID  *string   `db:"parent_id"`
	CreatedAt time.Time `db:"created_at"`
}

type Notification struct {
	ID          string    `db:"id"`
	RecipientID string    `db:"recipient_id"`
	Message     string    `db:"message"`
	Link        string    `db:"link"`
	Read        bool      `db:"is_read"`
	CreatedAt   time.Time `db:"created_at"`
}

type ChatMessage struct {
	ID        string    `db:"id"`
	TeamID    string    `db:"team_id"`
	SenderID  string    `db:"sender_id"`
	Text      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}
