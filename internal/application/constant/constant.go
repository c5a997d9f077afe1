package constant

// Shared slog attribute keys.
const (
	Error    = "error"
	UserID   = "user_id"
	LessonID = "lesson_id"
	Role     = "role"
	State    = "state"
)
