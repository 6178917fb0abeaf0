package chat

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ValidationStatus records the post-hoc JSON check on a completed model turn.
type ValidationStatus string

const (
	ValidationNone    ValidationStatus = ""
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// Turn is one entry in the conversation log. ImagePreview holds the data URI
// of a screenshot attached to a user turn, for display only.
type Turn struct {
	Role             Role             `json:"role"`
	Content          string           `json:"content"`
	ImagePreview     string           `json:"imagePreview,omitempty"`
	ValidationStatus ValidationStatus `json:"validationStatus,omitempty"`
}

// Example is one few-shot input/output pair prepended to the request.
type Example struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}
