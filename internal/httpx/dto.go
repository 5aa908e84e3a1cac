package httpx

type ChargeRequest struct {
	Phone string `json:"phone"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
