package realtime

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, conn *Connection) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case frame := <-conn.Outbound():
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func newTestRouter(buffer int) *Router {
	return NewRouter(NewRegistry(buffer), zerolog.Nop())
}

func TestPublishReachesEveryMember(t *testing.T) {
	router := newTestRouter(4)
	reg := router.Registry()
	a, _ := reg.Register("a")
	b, _ := reg.Register("b")
	outsider, _ := reg.Register("c")

	require.NoError(t, router.JoinRoom("a", TaskRoom("1")))
	require.NoError(t, router.JoinRoom("b", TaskRoom("1")))
	require.NoError(t, router.JoinRoom("c", TaskRoom("2")))

	router.Publish(TaskRoom("1"), "commentCreated", map[string]any{"text": "hi"})

	for _, conn := range []*Connection{a, b} {
		events := drain(t, conn)
		require.Len(t, events, 1)
		assert.Equal(t, "commentCreated", events[0].Event)
		assert.Equal(t, map[string]any{"text": "hi"}, events[0].Data)
	}
	assert.Empty(t, drain(t, outsider))
}

func TestLeaveStopsDeliveryAndRejoinResumes(t *testing.T) {
	router := newTestRouter(4)
	conn, _ := router.Registry().Register("a")
	room := TaskRoom("T")

	require.NoError(t, router.JoinRoom("a", room))
	router.Publish(room, "commentCreated", 1)
	require.Len(t, drain(t, conn), 1)

	require.NoError(t, router.LeaveRoom("a", room))
	router.Publish(room, "commentCreated", 2)
	assert.Empty(t, drain(t, conn))

	require.NoError(t, router.JoinRoom("a", room))
	router.Publish(room, "commentCreated", 3)
	events := drain(t, conn)
	require.Len(t, events, 1)
	assert.EqualValues(t, 3, events[0].Data)
}

func TestMalformedRoomsAreIgnored(t *testing.T) {
	router := newTestRouter(4)
	conn, _ := router.Registry().Register("a")

	assert.NoError(t, router.JoinRoom("a", RoomKey("garbage")))
	assert.NoError(t, router.LeaveRoom("a", RoomKey("task:")))
	assert.Equal(t, 0, router.Registry().RoomCount())

	router.Publish(RoomKey("garbage"), "x", nil)
	assert.Empty(t, drain(t, conn))
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	router := newTestRouter(1)
	slow, _ := router.Registry().Register("slow")
	fast, _ := router.Registry().Register("fast")
	room := TeamRoom("t")
	require.NoError(t, router.JoinRoom("slow", room))
	require.NoError(t, router.JoinRoom("fast", room))

	router.Publish(room, "receiveMessage", "one")
	assert.Len(t, drain(t, fast), 1)

	router.Publish(room, "receiveMessage", "two")
	assert.Len(t, drain(t, fast), 1, "a full peer must not block others")

	events := drain(t, slow)
	require.Len(t, events, 1)
	assert.Equal(t, "one", events[0].Data)
}

func TestPublishSkipsDisconnected(t *testing.T) {
	router := newTestRouter(4)
	reg := router.Registry()
	gone, _ := reg.Register("gone")
	stay, _ := reg.Register("stay")
	room := UserRoom("u")
	require.NoError(t, router.JoinRoom("gone", room))
	require.NoError(t, router.JoinRoom("stay", room))

	require.NoError(t, reg.Deregister("gone"))
	router.Publish(room, "newNotification", "n")

	assert.Empty(t, drain(t, gone))
	assert.Len(t, drain(t, stay), 1)
}
