package repository

import (
	"errors"
	"time"

	authdomain "mailhub-backend/internal/auth/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository defines persistence for users and their linked accounts
type UserRepository interface {
	Create(user *authdomain.User) error
	FindByID(id string) (*authdomain.User, error)
	FindByEmail(email string) (*authdomain.User, error)
	SaveProviderAccount(account *authdomain.ProviderAccount) error
	FindProviderAccount(userID, provider string) (*authdomain.ProviderAccount, error)
	UpdateProviderTokens(userID, provider, accessToken, refreshToken string) error
}

// userRepository implements UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new instance of userRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) Create(user *authdomain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	return r.db.Create(user).Error
}

func (r *userRepository) FindByID(id string) (*authdomain.User, error) {
	var user authdomain.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(email string) (*authdomain.User, error) {
	var user authdomain.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) SaveProviderAccount(account *authdomain.ProviderAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
		account.CreatedAt = time.Now()
	}
	account.UpdatedAt = time.Now()
	return r.db.Save(account).Error
}

func (r *userRepository) FindProviderAccount(userID, provider string) (*authdomain.ProviderAccount, error) {
	var account authdomain.ProviderAccount
	err := r.db.Where("user_id = ? AND provider = ?", userID, provider).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *userRepository) UpdateProviderTokens(userID, provider, accessToken, refreshToken string) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"updated_at":   time.Now(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.Model(&authdomain.ProviderAccount{}).
		Where("user_id = ? AND provider = ?", userID, provider).
		Updates(updates).Error
}
