package realtime

import "strings"

// Kind is the entity class a room fans out for.
type Kind string

const (
	KindTask    Kind = "task"
	KindTeam    Kind = "team"
	KindUser    Kind = "user"
	KindProject Kind = "project"
)

// RoomKey is "kind:id". The zero value is not a valid room.
type RoomKey string

func TaskRoom(taskID string) RoomKey       { return room(KindTask, taskID) }
func TeamRoom(teamID string) RoomKey       { return room(KindTeam, teamID) }
func UserRoom(userID string) RoomKey       { return room(KindUser, userID) }
func ProjectRoom(projectID string) RoomKey { return room(KindProject, projectID) }

func room(kind Kind, id string) RoomKey {
	return RoomKey(string(kind) + ":" + id)
}

// ParseRoomKey splits a key into kind and id. ok is false for unknown kinds,
// a missing separator, or an empty or whitespace-bearing id.
func ParseRoomKey(raw string) (kind Kind, id string, ok bool) {
	prefix, rest, found := strings.Cut(raw, ":")
	if !found || rest == "" || strings.ContainsAny(rest, " \t\r\n") {
		return "", "", false
	}
	switch Kind(prefix) {
	case KindTask, KindTeam, KindUser, KindProject:
		return Kind(prefix), rest, true
	default:
		return "", "", false
	}
}

func (k RoomKey) Valid() bool {
	_, _, ok := ParseRoomKey(string(k))
	return ok
}

func (k RoomKey) Kind() Kind {
	kind, _, _ := ParseRoomKey(string(k))
	return kind
}

func (k RoomKey) ID() string {
	_, id, _ := ParseRoomKey(string(k))
	return id
}
