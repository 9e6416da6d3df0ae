package speech

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// ErrorType categorizes synthesis failures.
type ErrorType int

const (
	// ErrTypeInvalidKey means the API key was rejected.
	ErrTypeInvalidKey ErrorType = iota
	// ErrTypeQuotaExceeded means the request was rate limited.
	ErrTypeQuotaExceeded
	// ErrTypeNetworkError means the service could not be reached.
	ErrTypeNetworkError
	// ErrTypeEmptyAudio means the model answered without audio.
	ErrTypeEmptyAudio
	// ErrTypeUnknown covers everything else.
	ErrTypeUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeInvalidKey:
		return "invalid_key"
	case ErrTypeQuotaExceeded:
		return "quota"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeEmptyAudio:
		return "empty_audio"
	default:
		return "unknown"
	}
}

// Error is a speech service failure.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyError wraps a genai failure in an *Error.
func classifyError(err error) *Error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403:
			return &Error{Type: ErrTypeInvalidKey, Message: "speech request rejected", Err: err}
		case 429:
			return &Error{Type: ErrTypeQuotaExceeded, Message: "speech quota exceeded", Err: err}
		}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &Error{Type: ErrTypeInvalidKey, Message: "speech request rejected", Err: err}
	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &Error{Type: ErrTypeQuotaExceeded, Message: "speech quota exceeded", Err: err}
	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "deadline exceeded") ||
		strings.Contains(errLower, "no such host"):
		return &Error{Type: ErrTypeNetworkError, Message: "speech service unreachable", Err: err}
	default:
		return &Error{Type: ErrTypeUnknown, Message: "speech synthesis failed", Err: err}
	}
}
