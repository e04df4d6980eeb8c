package web

import (
	"net/http"

	"github.com/JonMunkholm/csvwizard/internal/core"
)

// clientOf describes the caller for run history. RemoteAddr has already
// been reduced to the client IP by TrustedRealIP.
func clientOf(r *http.Request) core.Client {
	return core.Client{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()}
}
