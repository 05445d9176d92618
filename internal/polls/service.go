package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidInput indicates a blank question or fewer than two non-blank options.
var ErrInvalidInput = errors.New("polls: invalid input")

// minOptionCount is the smallest option list that still poses a choice.
const minOptionCount = 2

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the voting service.
type ServiceConfig struct {
	Store      *Store
	Notifier   Notifier
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// IDProvider issues identifiers for new polls.
type IDProvider interface {
	NewID() (string, error)
}

// Service enforces the one-vote-per-user invariant, keeps option tallies
// consistent with the voter set, and notifies subscribers after each commit.
type Service struct {
	store      *Store
	notifier   Notifier
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the voting service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("polls: store is required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("polls: id provider is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CreatePoll validates and persists a new poll, then announces it.
// Blank option entries are discarded before the minimum-count check.
func (s *Service) CreatePoll(ctx context.Context, creatorID, question string, optionTexts []string) (Snapshot, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Snapshot{}, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}

	texts := make([]string, 0, len(optionTexts))
	for _, text := range optionTexts {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			texts = append(texts, trimmed)
		}
	}
	if len(texts) < minOptionCount {
		return Snapshot{}, fmt.Errorf("%w: at least %d options are required", ErrInvalidInput, minOptionCount)
	}

	pollID, err := s.idProvider.NewID()
	if err != nil {
		s.logError("polls.create", "id_generation_failed", err)
		return Snapshot{}, err
	}

	now := s.clock().UTC()
	poll := Poll{
		PollID:    pollID,
		Question:  question,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	options := make([]PollOption, len(texts))
	for i, text := range texts {
		options[i] = PollOption{PollID: pollID, Position: i, Text: text}
	}

	if err := s.store.Create(ctx, poll, options); err != nil {
		s.logError("polls.create", "persist_failed", err, zap.String("poll_id", pollID))
		return Snapshot{}, err
	}

	snapshot := Snapshot{Poll: poll, Options: options, VotedBy: []string{}}
	s.publish(Event{Action: EventActionCreated, Poll: snapshot})
	return snapshot, nil
}

// CastVote applies exactly one vote for the voter on the poll and announces
// the updated tallies. The notification fires only after the vote has
// durably committed.
func (s *Service) CastVote(ctx context.Context, pollID, voterID string, optionIndex int) (Snapshot, error) {
	snapshot, err := s.store.ApplyVote(ctx, pollID, optionIndex, voterID)
	if err != nil {
		if !isCallerError(err) {
			s.logError("polls.vote", "apply_failed", err,
				zap.String("poll_id", pollID),
				zap.String("voter_id", voterID))
		}
		return Snapshot{}, err
	}
	s.publish(Event{Action: EventActionVoted, Poll: snapshot})
	return snapshot, nil
}

// GetPoll loads a single poll snapshot.
func (s *Service) GetPoll(ctx context.Context, pollID string) (Snapshot, error) {
	return s.store.GetByID(ctx, pollID)
}

// ListPolls returns every poll, newest first.
func (s *Service) ListPolls(ctx context.Context) ([]Snapshot, error) {
	return s.store.ListAll(ctx)
}

// ListUserPolls returns the polls the user created and the polls the user
// voted on, as two independent sequences. Voted ids that no longer resolve
// are silently omitted.
func (s *Service) ListUserPolls(ctx context.Context, userID string) (created []Snapshot, voted []Snapshot, err error) {
	created, err = s.store.ListByCreator(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	votedIDs, err := s.store.ListVotedPollIDs(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	voted, err = s.store.ListByIDs(ctx, votedIDs)
	if err != nil {
		return nil, nil, err
	}
	return created, voted, nil
}

func (s *Service) publish(event Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishPollEvent(event)
}

func isCallerError(err error) bool {
	return errors.Is(err, ErrPollNotFound) ||
		errors.Is(err, ErrAlreadyVoted) ||
		errors.Is(err, ErrInvalidOption) ||
		errors.Is(err, ErrInvalidInput)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("polls service error", attrs...)
}
