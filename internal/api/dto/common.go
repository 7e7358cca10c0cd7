package dto

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by the health probe
type HealthResponse struct {
	Status string `json:"status"`
}
