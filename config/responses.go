package config

import "strings"

// ToolResponsePatterns mark bot replies that report an administrative command
// outcome. Such replies are kept out of conversation history.
var ToolResponsePatterns = []string{
	"✅ Successfully coned",
	"✅ Successfully unconed",
	"❌ Could not find user",
	"❌ Unknown effect",
	"❌ Failed to apply cone effect",
	"❌ Failed to remove cone effect",
	"you don't have permission to use cone commands",
}

// IsToolResponse reports whether a bot reply is a command outcome.
func IsToolResponse(response string) bool {
	lower := strings.ToLower(response)
	for _, p := range ToolResponsePatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
