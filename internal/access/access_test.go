package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcrosbie/evalboard/internal/domain"
)

func codeOf(t *testing.T, err error) domain.ErrorCode {
	t.Helper()
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	return appErr.Code
}

func TestAuthorizeRoles(t *testing.T) {
	a, err := NewAuthorizer("adm=admin, ro=viewer, guest=guest", NewGate([]string{"viewer"}, []string{"admin"}))
	require.NoError(t, err)
	require.True(t, a.Enabled())

	role, err := a.Authorize("adm", true)
	require.NoError(t, err)
	assert.Equal(t, "admin", role)

	_, err = a.Authorize("ro", false)
	require.NoError(t, err)

	_, err = a.Authorize("ro", true)
	assert.Equal(t, domain.CodePermissionDenied, codeOf(t, err))

	_, err = a.Authorize("guest", false)
	assert.Equal(t, domain.CodePermissionDenied, codeOf(t, err))

	_, err = a.Authorize("nope", false)
	assert.Equal(t, domain.CodeUnauthenticated, codeOf(t, err))
}

func TestAuthorizeDisabledWithoutTokens(t *testing.T) {
	a, err := NewAuthorizer("", NewGate(nil, nil))
	require.NoError(t, err)
	assert.False(t, a.Enabled())
	_, err = a.Authorize("", true)
	assert.NoError(t, err)
}

func TestParseTokensRejectsMalformed(t *testing.T) {
	_, _, err := ParseTokens("adm=admin,broken")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "abc", BearerToken("abc"))
	assert.Equal(t, "", BearerToken(""))
}
