package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/api/internal/realtime"
	"taskhub/api/internal/store"
)

func TestRequestTransitionAnyToAny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	statuses := []string{store.StatusToDo, store.StatusInProgress, store.StatusDone}

	for _, from := range statuses {
		for _, to := range statuses {
			_, err := f.service.RequestTransition(ctx, actorAlice, "task-1", TransitionInput{Status: from})
			require.NoError(t, err)

			payload, err := f.service.RequestTransition(ctx, actorAlice, "task-1", TransitionInput{Status: to})
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, payload["status"])

			events := f.events.named("taskUpdated")
			last := events[len(events)-1]
			assert.Equal(t, to, last.Payload.(map[string]any)["status"])
		}
	}

	task, err := f.store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, task.Status)
}

func TestRequestTransitionPublishesToProjectAndTask(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RequestTransition(context.Background(), actorLead, "task-1", TransitionInput{Status: store.StatusInProgress})
	require.NoError(t, err)

	events := f.events.named("taskUpdated")
	require.Len(t, events, 2)
	rooms := []realtime.RoomKey{events[0].Room, events[1].Room}
	assert.ElementsMatch(t, []realtime.RoomKey{realtime.ProjectRoom("project-1"), realtime.TaskRoom("task-1")}, rooms)
	payload := events[0].Payload.(map[string]any)
	assert.Equal(t, "task-1", payload["_id"])
	assert.Equal(t, "project-1", payload["project"])
	assert.Equal(t, actorBob.ID, payload["assignee"])
}

func TestRequestTransitionRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.RequestTransition(ctx, actorAlice, "task-1", TransitionInput{Status: "Blocked"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.service.RequestTransition(ctx, actorCarol, "task-1", TransitionInput{Status: store.StatusDone})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.service.RequestTransition(ctx, actorSolo, "task-1", TransitionInput{Status: store.StatusDone})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.service.RequestTransition(ctx, actorAlice, "missing", TransitionInput{Status: store.StatusDone})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, f.events.named("taskUpdated"))

	_, err = f.service.RequestTransition(ctx, actorAdmin, "task-2", TransitionInput{Status: store.StatusDone})
	assert.NoError(t, err, "admins move any team's tasks")
}

func TestAnnounceTask(t *testing.T) {
	f := newFixture(t)

	payload, err := f.service.AnnounceTask(context.Background(), actorLead, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Write docs", payload["title"])

	created := f.events.named("taskCreated")
	require.Len(t, created, 1)
	assert.Equal(t, realtime.ProjectRoom("project-1"), created[0].Room)

	notes := f.events.named("newNotification")
	require.Len(t, notes, 1)
	assert.Equal(t, realtime.UserRoom(actorBob.ID), notes[0].Room)
	note := notes[0].Payload.(map[string]any)
	assert.Equal(t, `You have been assigned to task: "Write docs"`, note["message"])
	assert.Equal(t, "/member/tasks/task-1", note["link"])

	_, err = f.service.AnnounceTask(context.Background(), actorCarol, "task-1")
	assert.ErrorIs(t, err, ErrForbidden)
}
