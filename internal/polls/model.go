package polls

import "time"

// Poll is the persisted poll header. Options and the voter set live in their
// own tables and are combined into a Snapshot for callers.
type Poll struct {
	PollID    string    `gorm:"column:poll_id;primaryKey;size:190;not null"`
	Question  string    `gorm:"column:question;type:text;not null"`
	CreatedBy string    `gorm:"column:created_by;size:190;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing polls.
func (Poll) TableName() string {
	return "polls"
}

// PollOption is one answer in a poll's ordered option list. Position is the
// zero-based index clients vote by; the list never changes after creation.
type PollOption struct {
	PollID   string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	Position int    `gorm:"column:position;primaryKey;not null"`
	Text     string `gorm:"column:option_text;size:500;not null"`
	Votes    int64  `gorm:"column:votes;not null;default:0"`
}

// TableName exposes the table backing poll options.
func (PollOption) TableName() string {
	return "poll_options"
}

// PollVote records that a user has voted on a poll. The composite primary key
// is the schema-level guard behind the one-vote-per-user invariant; it also
// serves as the user's voted-poll history.
type PollVote struct {
	PollID string    `gorm:"column:poll_id;primaryKey;size:190;not null"`
	UserID string    `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	CastAt time.Time `gorm:"column:cast_at;autoCreateTime"`
}

// TableName exposes the table backing cast votes.
func (PollVote) TableName() string {
	return "poll_votes"
}

// Snapshot combines a poll with its ordered options and voter set. For every
// snapshot the option tallies sum to the size of VotedBy.
type Snapshot struct {
	Poll    Poll
	Options []PollOption
	VotedBy []string
}

// Event actions published to the change notifier.
const (
	EventActionCreated = "created"
	EventActionVoted   = "voted"
)

// Event describes a committed poll mutation carried to connected clients.
type Event struct {
	Action string
	Poll   Snapshot
}

// Notifier receives poll events after the corresponding mutation has been
// persisted. Delivery is best-effort; implementations must never block.
type Notifier interface {
	PublishPollEvent(event Event)
}
