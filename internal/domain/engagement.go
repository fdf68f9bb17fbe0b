package domain

import "time"

// Sentiment is the detected tone of an inbound engagement event.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentQuestion Sentiment = "question"
	SentimentSpam     Sentiment = "spam"
	SentimentNeutral  Sentiment = "neutral"
)

// EventCategory is the response-policy category of an engagement event.
// It is coarser than sentiment: a complaint is negative sentiment that
// demands human attention rather than an automated reply.
type EventCategory string

const (
	CategoryQuestion  EventCategory = "question"
	CategoryComplaint EventCategory = "complaint"
	CategoryPraise    EventCategory = "praise"
	CategorySpam      EventCategory = "spam"
	CategoryGeneral   EventCategory = "general"
)

// EventState is the processing state of an engagement event.
// Transitions are monotonic: an event never reverts to an earlier state.
type EventState string

const (
	EventStateNew        EventState = "new"
	EventStateClassified EventState = "classified"
	EventStateResponded  EventState = "responded"
	EventStateEscalated  EventState = "escalated"
	EventStateSuppressed EventState = "suppressed"
)

// eventStateRank orders states for the monotonicity check. Responded,
// escalated, and suppressed are all terminal.
var eventStateRank = map[EventState]int{
	EventStateNew:        0,
	EventStateClassified: 1,
	EventStateResponded:  2,
	EventStateEscalated:  2,
	EventStateSuppressed: 2,
}

// CanTransition reports whether moving from one event state to another is a
// strictly forward move.
func CanTransition(from, to EventState) bool {
	fromRank, ok := eventStateRank[from]
	if !ok {
		return false
	}
	toRank, ok := eventStateRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// EngagementEvent is an inbound comment or reply on a published post.
type EngagementEvent struct {
	ID         string        `db:"id"          json:"id"`
	PostID     string        `db:"post_id"     json:"post_id"`
	CommentID  string        `db:"comment_id"  json:"comment_id"`
	Author     string        `db:"author"      json:"author"`
	Text       string        `db:"text"        json:"text"`
	Sentiment  Sentiment     `db:"sentiment"   json:"sentiment"`
	Category   EventCategory `db:"category"    json:"category"`
	Confidence float64       `db:"confidence"  json:"confidence"`
	State      EventState    `db:"state"       json:"state"`
	ReceivedAt time.Time     `db:"received_at" json:"received_at"`
	UpdatedAt  time.Time     `db:"updated_at"  json:"updated_at"`
}

// IsSuppressed reports whether the event was excluded from engagement metrics.
func (e *EngagementEvent) IsSuppressed() bool {
	return e.State == EventStateSuppressed
}

// SessionPhase is the elapsed-time phase of a post's engagement session.
type SessionPhase string

const (
	PhaseInitialHook      SessionPhase = "initial_hook"
	PhaseActiveDiscussion SessionPhase = "active_discussion"
	PhaseExpertPhase      SessionPhase = "expert_phase"
	PhaseConversionPush   SessionPhase = "conversion_push"
	PhaseRetention        SessionPhase = "retention"
)

// phaseOrder lists phases in chronological order.
var phaseOrder = []SessionPhase{
	PhaseInitialHook,
	PhaseActiveDiscussion,
	PhaseExpertPhase,
	PhaseConversionPush,
	PhaseRetention,
}

// PhaseIndex returns the chronological position of a phase, or -1 if unknown.
func PhaseIndex(p SessionPhase) int {
	for i, phase := range phaseOrder {
		if phase == p {
			return i
		}
	}
	return -1
}

// PostEngagementSession tracks the current phase of a post's engagement
// lifecycle. Transitions are driven purely by elapsed time since publish;
// no inbound event can move the phase backward or skip it out of order.
type PostEngagementSession struct {
	PostID         string       `db:"post_id"          json:"post_id"`
	Phase          SessionPhase `db:"phase"            json:"phase"`
	PublishedAt    time.Time    `db:"published_at"     json:"published_at"`
	PhaseEnteredAt time.Time    `db:"phase_entered_at" json:"phase_entered_at"`
}
