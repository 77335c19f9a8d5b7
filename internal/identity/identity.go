// Package identity extracts the initiating user from HTTP requests.
// Authentication happens upstream; the proxy forwards the verified
// identity in headers.
package identity

import (
	"net/http"

	"github.com/fixdeploy/fixdeploy/internal/interfaces"
)

// Header names set by the authenticating reverse proxy
const (
	UserHeader = "X-Auth-User"
	RoleHeader = "X-Auth-Role"
)

// FromRequest reads the forwarded identity headers. Requests without a
// user header are attributed to "system".
func FromRequest(r *http.Request) interfaces.UserInfo {
	info := interfaces.UserInfo{
		Username: r.Header.Get(UserHeader),
		Role:     r.Header.Get(RoleHeader),
	}
	if info.Username == "" {
		info.Username = "system"
	}
	return info
}
