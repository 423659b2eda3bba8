package fallback

import "fmt"

const (
	CategoryHTTPSendFailed    = "http_send_failed"
	CategoryHTTPHistoryFailed = "http_history_failed"
)

// TransportError is returned for any failed fallback request. StatusCode is
// zero when the request never got a response.
type TransportError struct {
	Category   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Category, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Category, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return e.Category
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
