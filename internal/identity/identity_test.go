package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("POST", "/api/v1/deployments", nil)
	r.Header.Set(UserHeader, "alice")
	r.Header.Set(RoleHeader, "admin")

	info := FromRequest(r)
	assert.Equal(t, "alice", info.Username)
	assert.Equal(t, "admin", info.Role)
}

func TestFromRequestDefaultsToSystem(t *testing.T) {
	t.Parallel()

	info := FromRequest(httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "system", info.Username)
	assert.Empty(t, info.Role)
}
