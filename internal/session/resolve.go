package session

import "os"

// DefaultSessionName is used when nothing else selects a session.
const DefaultSessionName = "main"

// SessionEnv selects the session when no flag is given.
const SessionEnv = "WPPTRIAGE_SESSION"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. $WPPTRIAGE_SESSION
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := os.Getenv(SessionEnv); name != "" {
		return name
	}
	return DefaultSessionName
}
