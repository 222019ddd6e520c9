package realtime

import "testing"

func TestParseRoomKey(t *testing.T) {
	cases := []struct {
		raw  string
		kind Kind
		id   string
		ok   bool
	}{
		{raw: "task:42", kind: KindTask, id: "42", ok: true},
		{raw: "team:t-1", kind: KindTeam, id: "t-1", ok: true},
		{raw: "user:u-9", kind: KindUser, id: "u-9", ok: true},
		{raw: "project:p-3", kind: KindProject, id: "p-3", ok: true},
		{raw: "task:", ok: false},
		{raw: "task", ok: false},
		{raw: "board:1", ok: false},
		{raw: "task:a b", ok: false},
		{raw: "", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			kind, id, ok := ParseRoomKey(tc.raw)
			if ok != tc.ok || kind != tc.kind || id != tc.id {
				t.Fatalf("ParseRoomKey(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.raw, kind, id, ok, tc.kind, tc.id, tc.ok)
			}
		})
	}
}

func TestRoomConstructors(t *testing.T) {
	if got := TaskRoom("7"); got != "task:7" || got.Kind() != KindTask || got.ID() != "7" {
		t.Fatalf("TaskRoom = %q", got)
	}
	if got := UserRoom("u"); !got.Valid() {
		t.Fatalf("UserRoom(%q) should be valid", got)
	}
	if RoomKey("nope").Valid() {
		t.Fatal("bare word must not be a valid room")
	}
}
