package polls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrPollNotFound indicates the poll id does not resolve to a stored poll.
	ErrPollNotFound = errors.New("polls: not found")
	// ErrAlreadyVoted indicates the voter is already present in the poll's voter set.
	ErrAlreadyVoted = errors.New("polls: already voted")
	// ErrInvalidOption indicates an option index outside the poll's option list.
	ErrInvalidOption = errors.New("polls: invalid option")
)

// StoreConfig describes the dependencies required by the poll store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store persists polls, their options and their voter sets. ApplyVote is the
// single mutation after creation and runs as one transaction.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore constructs the poll store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("polls: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, now: clock}, nil
}

// Create persists a new poll together with its ordered options.
func (st *Store) Create(ctx context.Context, poll Poll, options []PollOption) error {
	return st.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&poll).Error; err != nil {
			return err
		}
		for i := range options {
			options[i].PollID = poll.PollID
			options[i].Position = i
		}
		return tx.Create(&options).Error
	})
}

// GetByID loads a single poll snapshot.
func (st *Store) GetByID(ctx context.Context, pollID string) (Snapshot, error) {
	var poll Poll
	err := st.db.WithContext(ctx).Where("poll_id = ?", pollID).Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrPollNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	snapshots, err := st.assembleSnapshots(st.db.WithContext(ctx), []Poll{poll})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshots[0], nil
}

// ListAll returns every poll, newest first. The poll id tiebreak keeps the
// ordering stable across polls created in the same instant.
func (st *Store) ListAll(ctx context.Context) ([]Snapshot, error) {
	var headers []Poll
	if err := st.db.WithContext(ctx).
		Order("created_at DESC, poll_id DESC").
		Find(&headers).Error; err != nil {
		return nil, err
	}
	return st.assembleSnapshots(st.db.WithContext(ctx), headers)
}

// ListByIDs returns snapshots for the provided poll ids, newest first.
// Ids that do not resolve are silently omitted.
func (st *Store) ListByIDs(ctx context.Context, pollIDs []string) ([]Snapshot, error) {
	if len(pollIDs) == 0 {
		return []Snapshot{}, nil
	}
	var headers []Poll
	if err := st.db.WithContext(ctx).
		Where("poll_id IN ?", pollIDs).
		Order("created_at DESC, poll_id DESC").
		Find(&headers).Error; err != nil {
		return nil, err
	}
	return st.assembleSnapshots(st.db.WithContext(ctx), headers)
}

// ListByCreator returns the polls created by the given user, newest first.
func (st *Store) ListByCreator(ctx context.Context, userID string) ([]Snapshot, error) {
	var headers []Poll
	if err := st.db.WithContext(ctx).
		Where("created_by = ?", userID).
		Order("created_at DESC, poll_id DESC").
		Find(&headers).Error; err != nil {
		return nil, err
	}
	return st.assembleSnapshots(st.db.WithContext(ctx), headers)
}

// ListVotedPollIDs returns the ids of every poll the user has voted on.
func (st *Store) ListVotedPollIDs(ctx context.Context, userID string) ([]string, error) {
	var pollIDs []string
	if err := st.db.WithContext(ctx).
		Model(&PollVote{}).
		Where("user_id = ?", userID).
		Order("cast_at DESC").
		Pluck("poll_id", &pollIDs).Error; err != nil {
		return nil, err
	}
	return pollIDs, nil
}

// ApplyVote registers a single vote as one atomic unit: the membership check,
// the tally increment and the voter-set insert commit together or not at all.
// The poll row is locked for the duration, so two concurrent votes by the same
// user on the same poll cannot both pass the membership check.
func (st *Store) ApplyVote(ctx context.Context, pollID string, optionIndex int, voterID string) (Snapshot, error) {
	var updated Snapshot
	txErr := st.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll Poll
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("poll_id = ?", pollID).
			Take(&poll).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPollNotFound
		}
		if err != nil {
			return err
		}

		var existing PollVote
		err = tx.Where("poll_id = ? AND user_id = ?", pollID, voterID).Take(&existing).Error
		if err == nil {
			return ErrAlreadyVoted
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var optionCount int64
		if err := tx.Model(&PollOption{}).Where("poll_id = ?", pollID).Count(&optionCount).Error; err != nil {
			return err
		}
		if optionIndex < 0 || int64(optionIndex) >= optionCount {
			return ErrInvalidOption
		}

		castAt := st.now().UTC()
		if err := tx.Create(&PollVote{PollID: pollID, UserID: voterID, CastAt: castAt}).Error; err != nil {
			return err
		}
		if err := tx.Model(&PollOption{}).
			Where("poll_id = ? AND position = ?", pollID, optionIndex).
			Update("votes", gorm.Expr("votes + 1")).Error; err != nil {
			return err
		}
		if err := tx.Model(&Poll{}).
			Where("poll_id = ?", pollID).
			Update("updated_at", castAt).Error; err != nil {
			return err
		}

		poll.UpdatedAt = castAt
		snapshots, err := st.assembleSnapshots(tx, []Poll{poll})
		if err != nil {
			return err
		}
		updated = snapshots[0]
		return nil
	})
	if txErr != nil {
		return Snapshot{}, txErr
	}
	return updated, nil
}

func (st *Store) assembleSnapshots(tx *gorm.DB, headers []Poll) ([]Snapshot, error) {
	snapshots := make([]Snapshot, 0, len(headers))
	if len(headers) == 0 {
		return snapshots, nil
	}

	pollIDs := make([]string, 0, len(headers))
	for _, header := range headers {
		pollIDs = append(pollIDs, header.PollID)
	}

	var options []PollOption
	if err := tx.Where("poll_id IN ?", pollIDs).
		Order("poll_id, position").
		Find(&options).Error; err != nil {
		return nil, err
	}
	optionsByPoll := make(map[string][]PollOption, len(headers))
	for _, option := range options {
		optionsByPoll[option.PollID] = append(optionsByPoll[option.PollID], option)
	}

	var votes []PollVote
	if err := tx.Where("poll_id IN ?", pollIDs).
		Order("poll_id, cast_at").
		Find(&votes).Error; err != nil {
		return nil, err
	}
	votersByPoll := make(map[string][]string, len(headers))
	for _, vote := range votes {
		votersByPoll[vote.PollID] = append(votersByPoll[vote.PollID], vote.UserID)
	}

	for _, header := range headers {
		voters := votersByPoll[header.PollID]
		if voters == nil {
			voters = []string{}
		}
		snapshots = append(snapshots, Snapshot{
			Poll:    header,
			Options: optionsByPoll[header.PollID],
			VotedBy: voters,
		})
	}
	return snapshots, nil
}
