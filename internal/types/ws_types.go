package types

// SessionCreated is returned by the command source when a session is issued.
type SessionCreated struct {
	SessionID string `json:"session_id"`
	WSPath    string `json:"ws_path"`
}

// SessionList describes the sessions known to the command source.
type SessionList struct {
	Active []string `json:"active_sessions"`
	Total  int      `json:"total_sessions"`
}

// PushResult acknowledges a navigation command pushed to a session.
type PushResult struct {
	SessionID string  `json:"session_id"`
	NavType   NavType `json:"nav_type"`
	Points    int     `json:"points"`
	Policy    int     `json:"policy"`
	Error     string  `json:"error,omitempty"`
}
