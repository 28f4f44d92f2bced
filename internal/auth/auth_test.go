package auth

import (
	"testing"

	"github.com/jarvis-labs/fabric/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestValidateAPIKeyMatchesDigest(t *testing.T) {
	token := "abc123abc123abc1"
	digest := DigestToken(token)
	service := NewService(Config{APIKeys: []models.APIKeyConfig{{Key: digest, UserID: "user-1", Email: "user@example.com"}}})

	user, err := service.ValidateAPIKey(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, "user@example.com", user.Email)
}

func TestValidateAPIKeyRejectsUnknownToken(t *testing.T) {
	service := NewService(Config{APIKeys: []models.APIKeyConfig{{Key: DigestToken("known")}}})
	_, err := service.ValidateAPIKey("unknown")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateDashboardToken(t *testing.T) {
	service := NewService(Config{DashboardToken: "dashboard-secret"})
	require.NoError(t, service.ValidateDashboardToken("dashboard-secret"))
	require.ErrorIs(t, service.ValidateDashboardToken("wrong"), ErrInvalidToken)
}

func TestEnabledReflectsConfiguration(t *testing.T) {
	require.False(t, NewService(Config{}).Enabled())
	require.True(t, NewService(Config{DashboardToken: "x"}).Enabled())
}

func TestGenerateTokenMeetsMinimumLength(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(token), MinTokenBytes*2) // hex doubles byte length
}
