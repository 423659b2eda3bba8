package realtime

type openSessionResponse struct {
	SessionID string `json:"sessionId"`
}
