package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/tally/backend/internal/polls"
	"github.com/MarcoPoloResearchLab/tally/backend/internal/users"
)

type optionPayload struct {
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

type creatorPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// pollPayload is the stable wire shape of a poll. CreatedBy is the creator's
// user id, or a creatorPayload where the listing expands it.
type pollPayload struct {
	ID        string          `json:"_id"`
	Question  string          `json:"question"`
	Options   []optionPayload `json:"options"`
	CreatedBy any             `json:"createdBy"`
	VotedBy   []string        `json:"votedBy"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type userPayload struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func buildPollPayload(snapshot polls.Snapshot, creators map[string]users.Ref) pollPayload {
	options := make([]optionPayload, 0, len(snapshot.Options))
	for _, option := range snapshot.Options {
		options = append(options, optionPayload{Text: option.Text, Votes: option.Votes})
	}

	voters := snapshot.VotedBy
	if voters == nil {
		voters = []string{}
	}

	var createdBy any = snapshot.Poll.CreatedBy
	if ref, ok := creators[snapshot.Poll.CreatedBy]; ok {
		createdBy = creatorPayload{Name: ref.Name, Email: ref.Email}
	}

	return pollPayload{
		ID:        snapshot.Poll.PollID,
		Question:  snapshot.Poll.Question,
		Options:   options,
		CreatedBy: createdBy,
		VotedBy:   voters,
		CreatedAt: snapshot.Poll.CreatedAt,
		UpdatedAt: snapshot.Poll.UpdatedAt,
	}
}

func buildUserPayload(account users.User) userPayload {
	return userPayload{
		ID:        account.UserID,
		Name:      account.Name,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}
}
