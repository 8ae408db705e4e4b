package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatline/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	SetPresence(ctx context.Context, userID uuid.UUID, active bool, lastSeen time.Time) error
}

// Session is the result of a successful registration or login.
type Session struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token"`
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type ProfileUpdate struct {
	Name          *string `json:"name"`
	Email         *string `json:"email"`
	Avatar        *string `json:"avatar"`
	StatusMessage *string `json:"status_message"`
}

type Service struct {
	users  UserStore
	tokens *TokenManager
	log    *zap.Logger
	now    func() time.Time
}

func NewService(users UserStore, tokens *TokenManager, log *zap.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return nil, fmt.Errorf("name is required: %w", domain.ErrInvalid)
	}
	if !strings.Contains(in.Email, "@") {
		return nil, fmt.Errorf("invalid email address: %w", domain.ErrInvalid)
	}
	if len(in.Password) < 6 {
		return nil, fmt.Errorf("password must be at least 6 characters: %w", domain.ErrInvalid)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := &domain.User{
		ID:           uuid.New(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Avatar:       in.Avatar,
		LastSeen:     now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.Stringer("user_id", user.ID))
	return s.session(user)
}

// Login checks the credentials and marks the user active.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("invalid email or password: %w", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("invalid email or password: %w", domain.ErrUnauthorized)
	}

	now := s.now()
	if err := s.users.SetPresence(ctx, user.ID, true, now); err != nil {
		return nil, err
	}
	user.IsActive = true
	user.LastSeen = now
	return s.session(user)
}

func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.users.SetPresence(ctx, userID, false, s.now())
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*domain.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil && *in.Email != "" {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if !strings.Contains(email, "@") {
			return nil, fmt.Errorf("invalid email address: %w", domain.ErrInvalid)
		}
		user.Email = email
	}
	if in.Avatar != nil {
		user.Avatar = *in.Avatar
	}
	if in.StatusMessage != nil {
		user.StatusMessage = *in.StatusMessage
	}
	user.UpdatedAt = s.now()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Service) session(user *domain.User) (*Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, AccessToken: token}, nil
}
