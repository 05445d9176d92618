package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates a registration attempt with an email that already has an account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates an unknown email or a password mismatch.
	// Callers cannot distinguish the two cases.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates the requested user id does not exist.
	ErrUserNotFound = errors.New("users: not found")
	// ErrInvalidRegistration indicates a blank name, email or password.
	ErrInvalidRegistration = errors.New("users: invalid registration")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	BcryptCost int
}

// Service manages user accounts and credential verification.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	bcryptCost int
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		bcryptCost: cost,
	}, nil
}

// Register creates an account with a hashed credential and returns it.
func (s *Service) Register(ctx context.Context, name, email, password string) (User, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return User{}, ErrInvalidRegistration
	}

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return User{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return User{}, err
	}

	identifier, err := uuid.NewV7()
	if err != nil {
		return User{}, err
	}

	account := User{
		UserID:       identifier.String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return account, nil
}

// Authenticate verifies the email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return account, nil
}

// GetByID loads a single account by its canonical id.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return account, nil
}

// Refs resolves user ids to their public name/email pairs. Unknown ids are
// silently omitted from the result.
func (s *Service) Refs(ctx context.Context, userIDs []string) (map[string]Ref, error) {
	refs := make(map[string]Ref, len(userIDs))
	if len(userIDs) == 0 {
		return refs, nil
	}
	var accounts []User
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&accounts).Error; err != nil {
		return nil, err
	}
	for _, account := range accounts {
		refs[account.UserID] = Ref{Name: account.Name, Email: account.Email}
	}
	return refs, nil
}
