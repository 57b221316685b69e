package permission

// Level is a room's active permission level. Exactly one holds at any
// instant.
type Level string

const (
	LevelViewer Level = "viewer"
	LevelAssist Level = "assist"
	LevelEditor Level = "editor"
)

// Normalize maps unknown input to the most restrictive level.
func Normalize(level string) Level {
	switch Level(level) {
	case LevelViewer, LevelAssist, LevelEditor:
		return Level(level)
	default:
		return LevelViewer
	}
}

// CanCreate reports whether actors at this level may author content.
// Viewers never create, so they are never stamped as item creators.
func (l Level) CanCreate() bool {
	return l == LevelAssist || l == LevelEditor
}
