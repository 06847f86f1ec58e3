package testutil

import (
	"net/http"
	"time"

	"expensio/pkg/requestcontext"
)

// WithCaller attaches an authenticated caller to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithCaller(req *http.Request, userID, companyID, role string) *http.Request {
	ctx := requestcontext.WithIdentity(req.Context(), requestcontext.CallerIdentity{
		UserID:    userID,
		CompanyID: companyID,
		Role:      role,
	})
	return req.WithContext(ctx)
}

// WithRequestID attaches a correlation ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// WithFixedTime pins the request-scoped clock.
func WithFixedTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}
