package api

// Response envelopes for endpoints that return a bare status or error rather
// than a domain object. Handlers with richer failure modes build their own
// gin.H payloads alongside BindErrors.

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
