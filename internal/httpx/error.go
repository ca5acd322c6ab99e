package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPError represents a non-2xx HTTP response returned by the remote service.
// The client never produces it on its own; callers opt in via CheckResponse.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	JSON       any
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("http error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// IsValidation reports a field-level validation or conflict response whose
// payload is meant for display next to form fields.
func (e *HTTPError) IsValidation() bool {
	if e == nil {
		return false
	}
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsServerFault reports a 5xx response.
func (e *HTTPError) IsServerFault() bool {
	return e != nil && e.StatusCode >= 500 && e.StatusCode <= 599
}

// IsNotFound reports a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e != nil && e.StatusCode == http.StatusNotFound
}

// CheckResponse returns nil for 2xx and 3xx responses. Otherwise it consumes
// and closes the body and returns an *HTTPError describing it.
func CheckResponse(resp *http.Response) error {
	if resp == nil {
		return fmt.Errorf("httpx: response is nil")
	}
	if resp.StatusCode < 400 {
		return nil
	}
	defer closeBody(resp.Body)
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("httpx: read error body: %w", err)
		}
		body = data
	}
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header.Clone(),
	}
	if isJSON(resp.Header.Get("Content-Type")) {
		httpErr.JSON = decodeJSONBody(body)
	}
	return httpErr
}

// decodeJSONBody parses the body bytes into a generic JSON payload.
func decodeJSONBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload
}
