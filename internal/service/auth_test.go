package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ibachev/codeeditor/internal/domain"
	"github.com/ibachev/codeeditor/internal/repository"
	"github.com/ibachev/codeeditor/internal/repository/mocks"
	"github.com/ibachev/codeeditor/internal/service"
)

func TestAuthService_Register_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, err := service.NewAuthService(mockUserRepo, "very-secret-key", 1)
	require.NoError(t, err)

	ctx := context.Background()
	username := "newbie"
	password := "StrongPass123"
	email := "newbie@example.com"

	// The password field on the saved pointer is zeroed after Save returns,
	// so the hash is captured at call time and checked afterwards.
	var savedHash string
	mockUserRepo.On("Save", ctx, mock.MatchedBy(func(user *domain.User) bool {
		return user.Username == username && user.Email == email
	})).
		Run(func(args mock.Arguments) {
			userArg := args.Get(1).(*domain.User)
			savedHash = userArg.Password
			userArg.ID = 5
			userArg.CreatedAt = time.Now().Add(-time.Second)
			userArg.UpdatedAt = time.Now().Add(-time.Second)
		}).
		Return(nil).
		Once()

	// Act
	registeredUser, err := authService.Register(ctx, username, password, email)

	// Assert
	assert.NoError(t, err)
	require.NotNil(t, registeredUser)
	assert.Equal(t, uint(5), registeredUser.ID)
	assert.Equal(t, username, registeredUser.Username)
	assert.Empty(t, registeredUser.Password, "returned user must not carry the password hash")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(savedHash), []byte(password)), "password is stored hashed")

	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_DuplicateUsername(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)
	ctx := context.Background()

	mockUserRepo.On("Save", ctx, mock.AnythingOfType("*domain.User")).
		Return(repository.ErrDuplicateEntry).Once()

	// Act
	_, err := authService.Register(ctx, "existingUser", "password", "email@test.com")

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRegistrationFailed))
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Register_MissingCredentials(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)

	_, err := authService.Register(context.Background(), "", "password", "")
	assert.Error(t, err)

	_, err = authService.Register(context.Background(), "user", "", "")
	assert.Error(t, err)

	mockUserRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestAuthService_Login_Success(t *testing.T) {
	// Arrange
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()
	username := "testuser"
	password := "password123"
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 1, Username: username, Password: string(hashedPassword)}

	mockUserRepo.On("FindByUsername", ctx, username).Return(userInDb, nil).Once()

	// Act
	token, err := authService.Login(ctx, username, password)

	// Assert
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Login_UserNotFound(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()

	mockUserRepo.On("FindByUsername", ctx, "nonexistent").
		Return(nil, repository.ErrUserNotFound).Once()

	token, err := authService.Login(ctx, "nonexistent", "password")

	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_Login_IncorrectPassword(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "test-secret", 24)
	ctx := context.Background()
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 1, Username: "testuser", Password: string(hashedPassword)}

	mockUserRepo.On("FindByUsername", ctx, "testuser").Return(userInDb, nil).Once()

	token, err := authService.Login(ctx, "testuser", "wrongpassword")

	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, errors.Is(err, service.ErrAuthenticationFailed))
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_VerifyToken_RoundTrip(t *testing.T) {
	// Arrange: log a user in, then verify the issued token.
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "round-trip-secret", 1)
	ctx := context.Background()
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("pw123456"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 42, Username: "alice", Password: string(hashedPassword)}

	mockUserRepo.On("FindByUsername", ctx, "alice").Return(userInDb, nil).Once()
	mockUserRepo.On("FindByID", ctx, uint(42)).Return(userInDb, nil).Once()

	token, err := authService.Login(ctx, "alice", "pw123456")
	require.NoError(t, err)

	// Act
	identity, err := authService.VerifyToken(ctx, token)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, uint(42), identity.UserID)
	assert.Equal(t, "alice", identity.Username)
	mockUserRepo.AssertExpectations(t)
}

func TestAuthService_VerifyToken_Garbage(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)

	_, err := authService.VerifyToken(context.Background(), "not-a-jwt")
	assert.True(t, errors.Is(err, service.ErrInvalidToken))

	_, err = authService.VerifyToken(context.Background(), "")
	assert.True(t, errors.Is(err, service.ErrInvalidToken))
}

func TestAuthService_VerifyToken_WrongSecret(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	issuer, _ := service.NewAuthService(mockUserRepo, "secret-a", 1)
	verifier, _ := service.NewAuthService(mockUserRepo, "secret-b", 1)
	ctx := context.Background()
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("pw123456"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 1, Username: "alice", Password: string(hashedPassword)}

	mockUserRepo.On("FindByUsername", ctx, "alice").Return(userInDb, nil).Once()
	token, err := issuer.Login(ctx, "alice", "pw123456")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(ctx, token)

	assert.True(t, errors.Is(err, service.ErrInvalidToken))
	mockUserRepo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
}

func TestAuthService_VerifyToken_DeletedUser(t *testing.T) {
	mockUserRepo := new(mocks.UserRepository)
	authService, _ := service.NewAuthService(mockUserRepo, "secret", 1)
	ctx := context.Background()
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("pw123456"), bcrypt.DefaultCost)
	userInDb := &domain.User{ID: 7, Username: "ghost", Password: string(hashedPassword)}

	mockUserRepo.On("FindByUsername", ctx, "ghost").Return(userInDb, nil).Once()
	token, err := authService.Login(ctx, "ghost", "pw123456")
	require.NoError(t, err)

	// The account disappears between issuing and verifying.
	mockUserRepo.On("FindByID", ctx, uint(7)).Return(nil, repository.ErrUserNotFound).Once()

	_, err = authService.VerifyToken(ctx, token)

	assert.True(t, errors.Is(err, service.ErrInvalidToken))
	mockUserRepo.AssertExpectations(t)
}
