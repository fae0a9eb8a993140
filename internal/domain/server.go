package domain

type RouterRequestSubmitTask struct {
	Query string  `json:"query" form:"query" binding:"required"`
	Model *string `json:"model" form:"model" binding:"omitempty,validate_model"`
}

type RouterRequestCompleteTask struct {
	Status *string `json:"status" binding:"omitempty,oneof=completed failed"`
	Result string  `json:"result"`
	Error  string  `json:"error"`
}

// RouterRequestReconfigure carries optional limiter settings; window_seconds
// wins over window_minutes when both are set.
type RouterRequestReconfigure struct {
	MaxRequests   *int `json:"max_requests"`
	WindowSeconds *int `json:"window_seconds"`
	WindowMinutes *int `json:"window_minutes"`
}
