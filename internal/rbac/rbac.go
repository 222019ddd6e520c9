package rbac

type Role string
type Action string

const (
	RoleMember   Role = "Member"
	RoleTeamLead Role = "TeamLead"
	RoleAdmin    Role = "Admin"
)

const (
	ActionComment          Action = "comment"
	ActionDeleteAnyComment Action = "delete_any_comment"
	ActionChat             Action = "chat"
	ActionDeleteAnyMessage Action = "delete_any_message"
	ActionMoveTask         Action = "move_task"
	ActionNotify           Action = "notify"
	ActionInvite           Action = "invite"
	ActionCrossTeam        Action = "cross_team"
	ActionImpersonateRoom  Action = "impersonate_room"
)

// Can reports whether role may perform action. Team membership is checked
// separately by SameTeam; Can only answers the role half of the question.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleTeamLead:
		switch action {
		case ActionComment, ActionChat, ActionDeleteAnyMessage, ActionMoveTask, ActionNotify:
			return true
		}
		return false
	case RoleMember:
		switch action {
		case ActionComment, ActionChat, ActionMoveTask, ActionNotify:
			return true
		}
		return false
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleTeamLead, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// SameTeam is true when both ids are set and equal.
func SameTeam(actorTeamID, resourceTeamID string) bool {
	return actorTeamID != "" && actorTeamID == resourceTeamID
}
