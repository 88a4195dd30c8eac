package upstream

import "fmt"

// Kind classifies the outcome of a single generation call.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindTransport
	KindBadStatus
	KindParseError
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindBadStatus:
		return "bad_status"
	case KindParseError:
		return "parse_error"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

type Result struct {
	Kind       Kind
	Text       string
	Character  string
	Action     string
	StatusCode int
	Err        error
}

func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// Sentinel is the user-facing text describing a failed call.
func (r Result) Sentinel() string {
	switch r.Kind {
	case KindSuccess:
		return r.Text
	case KindTimeout, KindTransport:
		return "The response timed out. Please try again."
	case KindParseError:
		return "Failed to parse the AI response."
	case KindEmpty:
		return "Could not generate a response."
	case KindBadStatus:
		if r.StatusCode == 500 {
			return "AI server internal error. A character may need to be selected first."
		}
		return fmt.Sprintf("AI server error (status code: %d)", r.StatusCode)
	default:
		return "An error occurred."
	}
}
