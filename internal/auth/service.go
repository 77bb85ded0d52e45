package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/core/datamodel/user"
)

type Service struct {
	userRepo   UserRepository
	tokenGen   TokenGenerator
	bcryptCost int
}

func NewService(userRepo UserRepository, tokenGen TokenGenerator, bcryptCost int) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:   userRepo,
		tokenGen:   tokenGen,
		bcryptCost: bcryptCost,
	}
}

// Authenticate validates credentials and issues an access token.
func (s *Service) Authenticate(dto LoginDTO) (AuthTokens, error) {
	if appErr := dto.Validate(); appErr != nil {
		return AuthTokens{}, appErr
	}

	u, err := s.userRepo.GetByEmail(dto.Email)
	if err != nil || u == nil || !u.IsActive {
		return AuthTokens{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(dto.Password)); err != nil {
		return AuthTokens{}, ErrInvalidCredentials
	}

	token, err := s.tokenGen.GenerateAccessToken(u.ID, u.Email)
	if err != nil {
		return AuthTokens{}, err
	}
	return AuthTokens{AccessToken: token}, nil
}

// Register creates an account and returns the new user.
func (s *Service) Register(dto RegisterDTO) (*user.User, error) {
	if appErr := dto.Validate(); appErr != nil {
		return nil, appErr
	}
	if existing, err := s.userRepo.GetByEmail(dto.Email); err == nil && existing != nil {
		return nil, internal.NewConflictError("An account with this email already exists", internal.ErrCodeEmailTaken)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	u := &user.User{
		Email:        dto.Email,
		Name:         dto.Name,
		PhoneNumber:  dto.PhoneNumber,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.userRepo.Create(u); err != nil {
		return nil, err
	}
	return u, nil
}

// ValidateAccessToken resolves a token into claims.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.tokenGen.ValidateToken(tokenString)
}

// GetUser loads an active user by id.
func (s *Service) GetUser(id int64) (*user.User, error) {
	u, err := s.userRepo.GetByID(id)
	if err != nil || u == nil || !u.IsActive {
		return nil, internal.ErrInvalidToken
	}
	return u, nil
}
