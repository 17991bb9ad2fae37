package chat

import "time"

// Session captures one conversation: its transcript plus whatever context the
// frontend attached. Serialized as a whole into the durable store.
type Session struct {
	ID           string         `json:"session_id"`
	Persona      string         `json:"persona_type"`
	Messages     []Message      `json:"messages"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Context      map[string]any `json:"context"`
	AuthToken    string         `json:"auth_token,omitempty"`
	ProfileID    string         `json:"profile_id,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	cp.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		cp.Context[k] = v
	}
	return &cp
}
