package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"taskhub/api/internal/auth"
	"taskhub/api/internal/config"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
)

const testSecret = "test-secret"

var testEpoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// stepClock advances one second per call so creation order is unambiguous.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type publishedEvent struct {
	Room    realtime.RoomKey
	Event   string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(room realtime.RoomKey, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Room: room, Event: event, Payload: payload})
}

func (p *recordingPublisher) named(event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

var (
	actorAlice = Actor{ID: "user-alice", Name: "Alice", Role: rbac.RoleMember, TeamID: "team-1"}
	actorBob   = Actor{ID: "user-bob", Name: "Bob", Role: rbac.RoleMember, TeamID: "team-1"}
	actorLead  = Actor{ID: "user-lead", Name: "Lena", Role: rbac.RoleTeamLead, TeamID: "team-1"}
	actorCarol = Actor{ID: "user-carol", Name: "Carol", Role: rbac.RoleMember, TeamID: "team-2"}
	actorAdmin = Actor{ID: "user-admin", Name: "Ada", Role: rbac.RoleAdmin}
	actorSolo  = Actor{ID: "user-solo", Name: "Sol", Role: rbac.RoleMember}
)

type fixture struct {
	service *Service
	store   *store.SQLStore
	events  *recordingPublisher
}

// newFixture wires a service over in-memory SQLite with two teams, one
// project per team and a task assigned to Bob.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db))
	st := store.NewSQLStore(db)

	for _, team := range []store.Team{
		{ID: "team-1", Name: "Core", CreatedAt: testEpoch},
		{ID: "team-2", Name: "Growth", CreatedAt: testEpoch},
	} {
		require.NoError(t, st.InsertTeam(ctx, team))
	}
	for i, actor := range []Actor{actorAlice, actorBob, actorLead, actorCarol, actorAdmin, actorSolo} {
		require.NoError(t, st.InsertUser(ctx, store.User{
			ID:        actor.ID,
			Name:      actor.Name,
			Email:     actor.ID + "@example.com",
			Role:      string(actor.Role),
			TeamID:    actor.TeamID,
			CreatedAt: testEpoch.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	require.NoError(t, st.InsertProject(ctx, store.Project{ID: "project-1", Title: "Launch", TeamID: "team-1", CreatedAt: testEpoch}))
	require.NoError(t, st.InsertProject(ctx, store.Project{ID: "project-2", Title: "Experiments", TeamID: "team-2", CreatedAt: testEpoch}))
	require.NoError(t, st.InsertTask(ctx, store.Task{
		ID: "task-1", Title: "Write docs", AssigneeID: actorBob.ID, ProjectID: "project-1", TeamID: "team-1",
		CreatedAt: testEpoch, UpdatedAt: testEpoch,
	}))
	require.NoError(t, st.InsertTask(ctx, store.Task{
		ID: "task-2", Title: "Pricing test", AssigneeID: actorCarol.ID, ProjectID: "project-2", TeamID: "team-2",
		CreatedAt: testEpoch, UpdatedAt: testEpoch,
	}))

	events := &recordingPublisher{}
	clock := &stepClock{t: testEpoch}
	svc := &Service{
		cfg:      config.Config{JWTSecret: testSecret},
		store:    st,
		identity: auth.NewVerifier(testSecret, st),
		events:   events,
		log:      zerolog.Nop(),
		now:      clock.Now,
	}
	return fixture{service: svc, store: st, events: events}
}

func issueTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		UserID:           userID,
		RegisteredClaims: registeredFor(userID),
	})
	require.NoError(t, err)
	return token
}

func registeredFor(userID string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        "jti-" + userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

// fakeStore answers every lookup with sql.ErrNoRows unless a function field
// overrides it.
type fakeStore struct {
	getUserFn          func(context.Context, string) (store.User, error)
	getTaskFn          func(context.Context, string) (store.Task, error)
	getCommentFn       func(context.Context, string) (store.Comment, error)
	listTaskCommentsFn func(context.Context, string) ([]store.Comment, error)
	deleteCommentFn    func(context.Context, string) (bool, error)
	insertCommentFn    func(context.Context, store.Comment) error
	getNotificationFn  func(context.Context, string) (store.Notification, error)
	markReadFn         func(context.Context, string) (store.Notification, error)
	updateTaskStatusFn func(context.Context, string, string, time.Time) (store.Task, error)
	insertChatFn       func(context.Context, store.ChatMessage) error
	pingFn             func(context.Context) error
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (store.User, error) {
	if f.getUserFn != nil {
		return f.getUserFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CountUsers(context.Context) (int, error)            { return 0, nil }
func (f *fakeStore) InsertUser(context.Context, store.User) error       { return nil }
func (f *fakeStore) InsertTeam(context.Context, store.Team) error       { return nil }
func (f *fakeStore) InsertProject(context.Context, store.Project) error { return nil }
func (f *fakeStore) InsertTask(context.Context, store.Task) error       { return nil }
func (f *fakeStore) GetProject(context.Context, string) (store.Project, error) {
	return store.Project{}, sql.ErrNoRows
}
func (f *fakeStore) GetTask(ctx context.Context, id string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, id)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateTaskStatus(ctx context.Context, id, status string, at time.Time) (store.Task, error) {
	if f.updateTaskStatusFn != nil {
		return f.updateTaskStatusFn(ctx, id, status, at)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) ListTaskComments(ctx context.Context, taskID string) ([]store.Comment, error) {
	if f.listTaskCommentsFn != nil {
		return f.listTaskCommentsFn(ctx, taskID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, id string) (bool, error) {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id)
	}
	return true, nil
}
func (f *fakeStore) InsertNotification(context.Context, store.Notification) error { return nil }
func (f *fakeStore) GetNotification(ctx context.Context, id string) (store.Notification, error) {
	if f.getNotificationFn != nil {
		return f.getNotificationFn(ctx, id)
	}
	return store.Notification{}, sql.ErrNoRows
}
func (f *fakeStore) MarkNotificationRead(ctx context.Context, id string) (store.Notification, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, id)
	}
	return store.Notification{}, sql.ErrNoRows
}
func (f *fakeStore) ListNotifications(context.Context, string) ([]store.Notification, error) {
	return nil, nil
}
func (f *fakeStore) UnreadNotificationCount(context.Context, string) (int, error) { return 0, nil }
func (f *fakeStore) DeleteNotification(context.Context, string) (bool, error)     { return true, nil }
func (f *fakeStore) InsertChatMessage(ctx context.Context, m store.ChatMessage) error {
	if f.insertChatFn != nil {
		return f.insertChatFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) GetChatMessage(context.Context, string) (store.ChatMessage, error) {
	return store.ChatMessage{}, sql.ErrNoRows
}
func (f *fakeStore) ListTeamMessages(context.Context, string) ([]store.ChatMessage, error) {
	return nil, nil
}
func (f *fakeStore) DeleteChatMessage(context.Context, string) (bool, error) { return true, nil }
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newFakeService(fake *fakeStore) (*Service, *recordingPublisher) {
	events := &recordingPublisher{}
	clock := &stepClock{t: testEpoch}
	return &Service{
		store:  fake,
		events: events,
		log:    zerolog.Nop(),
		now:    clock.Now,
	}, events
}
