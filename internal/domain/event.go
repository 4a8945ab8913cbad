package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameSessionCompleted   = "session.completed"
	EventNameSessionExpired     = "session.expired"
	EventNameAnswerSubmitted    = "answer.submitted"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionStarted struct {
	Session Session
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventSessionCompleted struct {
	Session Session
}

func (EventSessionCompleted) Name() string { return EventNameSessionCompleted }

type EventSessionExpired struct {
	Session Session
}

func (EventSessionExpired) Name() string { return EventNameSessionExpired }

type EventAnswerSubmitted struct {
	SessionID string
	Answer    AnswerRecord
}

func (EventAnswerSubmitted) Name() string { return EventNameAnswerSubmitted }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
