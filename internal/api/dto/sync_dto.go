package dto

type TriggerRequest struct {
	Tag     string   `json:"tag" binding:"omitempty,max=128"`
	Filters []string `json:"filters"`
}

type DeleteRequest struct {
	Tag  string `json:"tag" binding:"omitempty,max=128"`
	Side string `json:"side" binding:"required,oneof=account directory"`
	Key  string `json:"key" binding:"required"`
}

type AccountURI struct {
	Email string `uri:"email" binding:"required,email"`
}

type AccountRequest struct {
	Username   string            `json:"username" binding:"required"`
	Active     *bool             `json:"active"`
	Attributes map[string]string `json:"attributes"`
}

type ScheduledResponse struct {
	JobID  string `json:"job_id"`
	Tag    string `json:"tag"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}
