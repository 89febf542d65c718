package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/repository"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

// AuthService issues tokens for organization members.
type AuthService struct {
	members  repository.MemberRepository
	tokenMgr *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, members repository.MemberRepository) *AuthService {
	return &AuthService{
		members:  members,
		tokenMgr: auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
	}
}

// TokenManager exposes the manager used to sign tokens.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// Login authenticates a member by email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Member, string, time.Time, error) {
	member, err := s.members.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, "", time.Time{}, err
	}
	if !member.Active {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("member inactive")
	}
	if err := auth.ComparePassword(member.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, exp, err := s.tokenMgr.GenerateToken(member)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return member, token, exp, nil
}
