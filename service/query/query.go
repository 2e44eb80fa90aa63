package query

// ChatRequest is the body accepted by /chat and /assistant.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the body returned by /chat and /assistant.
type ChatResponse struct {
	Reply string `json:"reply"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
