package errors

import stderrors "errors"

// UserMessage is the short, categorized form of an error shown to the user.
type UserMessage struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Hint     string   `json:"hint"`
}

// String joins the message and hint.
func (m UserMessage) String() string {
	if m.Hint == "" {
		return m.Message
	}
	return m.Message + " " + m.Hint
}

var remediations = map[Category]string{
	CategoryPermission:  "Check that a microphone is connected and that this application is allowed to use it.",
	CategoryNegotiation: "Check your network connection and try starting the conversation again.",
	CategoryTransport:   "The connection was lost. Start a new conversation to continue.",
	CategoryProtocol:    "An unexpected message was ignored. No action is needed.",
	CategoryNoResponse:  "Try speaking again; the agent is still listening.",
	CategoryUnknown:     "Try again. If the problem persists, restart the application.",
}

// Remediation returns the remediation hint for a category.
func Remediation(c Category) string {
	if hint, ok := remediations[c]; ok {
		return hint
	}
	return remediations[CategoryUnknown]
}

// Describe converts any error into a UserMessage. The raw error text is never
// included; only the category decides the wording.
func Describe(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	category := CategoryOf(err)
	return UserMessage{
		Category: category,
		Message:  message(category, err),
		Hint:     Remediation(category),
	}
}

func message(c Category, err error) string {
	switch c {
	case CategoryPermission:
		switch {
		case stderrors.Is(err, ErrMicrophoneDenied):
			return "Microphone access was denied."
		case stderrors.Is(err, ErrMicrophoneNotFound):
			return "No microphone was found."
		case stderrors.Is(err, ErrMicrophoneBusy):
			return "The microphone is in use by another application."
		default:
			return "The microphone could not be opened."
		}
	case CategoryNegotiation:
		return "Could not connect to the conversation service."
	case CategoryTransport:
		return "The conversation connection dropped."
	case CategoryProtocol:
		return "Received a message that could not be understood."
	case CategoryNoResponse:
		return "No response received."
	default:
		return "Something went wrong."
	}
}
