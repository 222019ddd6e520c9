package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/config"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
)

// Actor is the authenticated principal behind a request or socket.
type Actor struct {
	ID     string
	Name   string
	Role   rbac.Role
	TeamID string
}

// ActsFor reports whether a may read or listen on behalf of userID.
func (a Actor) ActsFor(userID string) bool {
	return userID == a.ID || rbac.Can(a.Role, rbac.ActionImpersonateRoom)
}

type dataStore interface {
	GetUser(context.Context, string) (store.User, error)
	CountUsers(context.Context) (int, error)
	InsertUser(context.Context, store.User) error
	InsertTeam(context.Context, store.Team) error
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	InsertTask(context.Context, store.Task) error
	GetTask(context.Context, string) (store.Task, error)
	UpdateTaskStatus(context.Context, string, string, time.Time) (store.Task, error)
	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListTaskComments(context.Context, string) ([]store.Comment, error)
	DeleteComment(context.Context, string) (bool, error)
	InsertNotification(context.Context, store.Notification) error
	GetNotification(context.Context, string) (store.Notification, error)
	MarkNotificationRead(context.Context, string) (store.Notification, error)
	ListNotifications(context.Context, string) ([]store.Notification, error)
	UnreadNotificationCount(context.Context, string) (int, error)
	DeleteNotification(context.Context, string) (bool, error)
	InsertChatMessage(context.Context, store.ChatMessage) error
	GetChatMessage(context.Context, string) (store.ChatMessage, error)
	ListTeamMessages(context.Context, string) ([]store.ChatMessage, error)
	DeleteChatMessage(context.Context, string) (bool, error)
	Ping(ctx context.Context) error
}

type identityProvider interface {
	Verify(context.Context, string) (auth.Claims, error)
	Revoke(context.Context, auth.Claims) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	identity identityProvider
	events   realtime.Publisher
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.SQLStore, verifier *auth.Verifier, events realtime.Publisher, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		identity: verifier,
		events:   events,
		log:      log.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Authenticate resolves a bearer token to the user record it names. The stored
// role and team win over whatever the token claims.
func (s *Service) Authenticate(ctx context.Context, token string) (Actor, error) {
	claims, err := s.identity.Verify(ctx, token)
	if err != nil {
		return Actor{}, err
	}
	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			return Actor{}, auth.ErrInvalidToken
		}
		return Actor{}, fmt.Errorf("load principal: %w", err)
	}
	return actorFromUser(user), nil
}

// Logout revokes the presented access token until it would have expired.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.identity.Verify(ctx, token)
	if err != nil {
		return err
	}
	if err := s.identity.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.log.Info().Str("user", claims.UserID).Msg("access token revoked")
	return nil
}

func actorFromUser(user store.User) Actor {
	return Actor{
		ID:     user.ID,
		Name:   user.Name,
		Role:   rbac.Normalize(user.Role),
		TeamID: user.TeamID,
	}
}

func (s *Service) loadTask(ctx context.Context, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Task{}, notFound("Task")
		}
		return store.Task{}, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

// AuthorizeJoin decides whether actor may listen on a task, team or project
// room. The gateway checks user rooms against the connection's principal.
func (s *Service) AuthorizeJoin(ctx context.Context, actor Actor, room realtime.RoomKey) error {
	switch room.Kind() {
	case realtime.KindTask:
		task, err := s.loadTask(ctx, room.ID())
		if err != nil {
			return err
		}
		if !canSeeTask(actor, task) {
			return ErrForbidden
		}
	case realtime.KindProject:
		project, err := s.store.GetProject(ctx, room.ID())
		if err != nil {
			if store.IsNotFound(err) {
				return notFound("Project")
			}
			return fmt.Errorf("load project: %w", err)
		}
		if !inTeam(actor, project.TeamID) {
			return ErrForbidden
		}
	case realtime.KindTeam:
		if !inTeam(actor, room.ID()) {
			return ErrForbidden
		}
	default:
		return ErrForbidden
	}
	return nil
}

// lookupUser returns ok=false for a missing user instead of an error.
func (s *Service) lookupUser(ctx context.Context, userID string) (store.User, bool, error) {
	if userID == "" {
		return store.User{}, false, nil
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.User{}, false, nil
		}
		return store.User{}, false, fmt.Errorf("load user: %w", err)
	}
	return user, true, nil
}

func (s *Service) publish(room realtime.RoomKey, event string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Publish(room, event, payload)
}

// Bootstrap seeds a small demo team when seed_demo is set and the database
// holds no users yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	if !s.cfg.SeedDemo {
		return nil
	}
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := s.now().UTC()
	team := store.Team{ID: "team-core", Name: "Core Platform", CreatedAt: now}
	if err := s.store.InsertTeam(ctx, team); err != nil {
		return err
	}

	users := []store.User{
		{ID: "user-admin", Name: "Avery Admin", Email: "admin@taskhub.local", Role: string(rbac.RoleAdmin)},
		{ID: "user-lead", Name: "Lee Lead", Email: "lead@taskhub.local", Role: string(rbac.RoleTeamLead), TeamID: team.ID},
		{ID: "user-mia", Name: "Mia Member", Email: "mia@taskhub.local", Role: string(rbac.RoleMember), TeamID: team.ID},
		{ID: "user-noah", Name: "Noah Member", Email: "noah@taskhub.local", Role: string(rbac.RoleMember), TeamID: team.ID},
	}
	for _, user := range users {
		user.CreatedAt = now
		if err := s.store.InsertUser(ctx, user); err != nil {
			return err
		}
	}

	project := store.Project{ID: "project-launch", Title: "Public launch", TeamID: team.ID, CreatedAt: now}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return err
	}

	tasks := []store.Task{
		{ID: "task-docs", Title: "Write onboarding docs", Status: store.StatusToDo, AssigneeID: "user-mia"},
		{ID: "task-ci", Title: "Stabilise CI pipeline", Status: store.StatusInProgress, AssigneeID: "user-noah"},
		{ID: "task-brand", Title: "Pick launch colours", Status: store.StatusDone},
	}
	for _, task := range tasks {
		task.ProjectID = project.ID
		task.TeamID = team.ID
		task.CreatedAt = now
		task.UpdatedAt = now
		if err := s.store.InsertTask(ctx, task); err != nil {
			return err
		}
	}

	s.log.Info().Int("users", len(users)).Int("tasks", len(tasks)).Msg("seeded demo data")
	return nil
}
