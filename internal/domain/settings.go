package domain

// ResponseMode selects between model-generated and operator replies.
type ResponseMode string

const (
	ResponseModeAuto   ResponseMode = "auto"
	ResponseModeManual ResponseMode = "manual"
)

// DefaultManualResponse is sent in manual mode until an operator changes it.
const DefaultManualResponse = "Thanks for your message. An agent will get back to you shortly."

// AppSettings is the process-wide configuration mutated by operators.
type AppSettings struct {
	ResponseMode    ResponseMode `json:"response_mode"`
	DefaultResponse string       `json:"default_response"`
}

// DefaultSettings returns the built-in settings used when none are persisted.
func DefaultSettings() AppSettings {
	return AppSettings{
		ResponseMode:    ResponseModeAuto,
		DefaultResponse: DefaultManualResponse,
	}
}
