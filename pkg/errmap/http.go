package errmap

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/modelbridge/pkg/provider"
)

// FromHTTPResponse builds a BackendError from a non-success response. The
// code comes from the body when present, otherwise from the
// X-Amzn-ErrorType header. The body is read up to 4 KB and not closed.
func FromHTTPResponse(resp *http.Response) *provider.BackendError {
	code, message := ExtractError(resp.Body)
	if code == "" {
		// X-Amzn-ErrorType looks like "ThrottlingException:http://...".
		code, _, _ = strings.Cut(resp.Header.Get("X-Amzn-ErrorType"), ":")
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &provider.BackendError{
		StatusCode: resp.StatusCode,
		Code:       code,
		Message:    message,
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// ExtractError reads a code and message from an error body. It understands
// {"error":{"type"|"code","message"}}, {"type","message"},
// {"__type","message"} and {"code","message"}; anything else is returned
// as the message verbatim.
func ExtractError(body io.Reader) (code, message string) {
	if body == nil {
		return "", ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "", ""
	}

	var e struct {
		Type      string `json:"type"`
		AmznType  string `json:"__type"`
		Code      string `json:"code"`
		Message   string `json:"message"`
		MessageUC string `json:"Message"`
		Error     *struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return "", strings.TrimSpace(string(data))
	}
	if e.Error != nil {
		return firstNonEmpty(e.Error.Type, e.Error.Code), e.Error.Message
	}
	code = firstNonEmpty(e.AmznType, e.Code, e.Type)
	if code == "error" {
		code = ""
	}
	return code, firstNonEmpty(e.Message, e.MessageUC)
}

// ParseRetryAfter parses a Retry-After value given in seconds or as an
// HTTP date. It returns 0 when the value is absent, malformed or in the past.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
