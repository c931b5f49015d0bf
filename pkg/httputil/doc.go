// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "email is required")
//	httputil.WriteUnauthorized(w, "invalid or expired token")
//
// Errors are written as {"error": "..."}; auth outcomes add "reason" and a
// user-facing "message" through WriteErrorResponse.
//
// # Request Parsing
//
//	var req SignInRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	token, ok := httputil.ParsePathStringOrError(w, r, "token")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
