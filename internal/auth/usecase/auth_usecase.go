package usecase

import (
	"context"
	"errors"
	"fmt"

	authdomain "mailhub-backend/internal/auth/domain"
	"mailhub-backend/internal/auth/repository"
	syncdomain "mailhub-backend/internal/mailsync/domain"
	"mailhub-backend/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

// AuthUsecase validates API tokens and resolves provider credentials
type AuthUsecase interface {
	ValidateToken(tokenString string) (*authdomain.User, error)
	Credential(ctx context.Context, userID string, provider syncdomain.Provider) (*syncdomain.Credential, error)
}

// authUsecase implements AuthUsecase interface
type authUsecase struct {
	userRepo repository.UserRepository
	config   *config.Config
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(userRepo repository.UserRepository, cfg *config.Config) AuthUsecase {
	return &authUsecase{
		userRepo: userRepo,
		config:   cfg,
	}
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(u.config.JWTSecret), nil
	})

	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	user, err := u.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, errors.New("user not found")
	}

	return user, nil
}

// Credential loads the stored account for a (user, provider) pair. For OAuth
// providers the returned credential carries an OnRefresh callback that writes
// refreshed tokens back so the next call starts from the new token.
func (u *authUsecase) Credential(ctx context.Context, userID string, provider syncdomain.Provider) (*syncdomain.Credential, error) {
	account, err := u.userRepo.FindProviderAccount(userID, string(provider))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("%w: no linked %s account for user %s", syncdomain.ErrAuthExpired, provider, userID)
	}

	cred := &syncdomain.Credential{
		Email:        account.Email,
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		Password:     account.IMAPPassword,
	}
	if provider != syncdomain.ProviderYahoo {
		cred.OnRefresh = func(accessToken, refreshToken string) error {
			return u.userRepo.UpdateProviderTokens(userID, string(provider), accessToken, refreshToken)
		}
	}
	return cred, nil
}
