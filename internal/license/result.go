package license

// MessageType classifies a result message for display purposes.
type MessageType string

const (
	MessageInfo    MessageType = "info"
	MessageSuccess MessageType = "success"
	MessageError   MessageType = "error"
)

// Result is the outcome of a license operation. Expected failures travel as
// values, never as Go errors: every public operation answers with a Result
// carrying a human-readable, actionable message.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Type    MessageType `json:"message_type"`
}

// Succeed builds a successful result.
func Succeed(message string) Result {
	return Result{Success: true, Message: message, Type: MessageSuccess}
}

// Fail builds a failed result.
func Fail(message string) Result {
	return Result{Success: false, Message: message, Type: MessageError}
}

// Notice builds a successful result with informational severity.
func Notice(message string) Result {
	return Result{Success: true, Message: message, Type: MessageInfo}
}
