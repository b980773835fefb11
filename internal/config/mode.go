package config

// StartMode selects how the entity store is initialized
type StartMode string

const (
	StartClean StartMode = "clean" // wipe every record
	StartWarm  StartMode = "warm"  // reload persisted state unchanged
)

// ParseStartMode converts a string to StartMode, defaulting to StartWarm
func ParseStartMode(s string) StartMode {
	switch s {
	case "clean":
		return StartClean
	case "warm":
		return StartWarm
	default:
		return StartWarm
	}
}

// Clean reports whether the store should be wiped at startup
func (m StartMode) Clean() bool {
	return m == StartClean
}
