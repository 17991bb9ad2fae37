package persona

// Persona describes one assistant variant: its voice toward the user and the
// model parameters a turn runs with.
type Persona struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	SystemPrompt string   `json:"-"`
	Model        string   `json:"model,omitempty"`
	Temperature  float32  `json:"-"`
	MaxTokens    int      `json:"-"`
	Tools        []string `json:"tools,omitempty"`
	// ShowToolTrace controls whether tool progress lines are streamed to the
	// user. The therapist variant keeps tool use invisible.
	ShowToolTrace bool `json:"-"`
}

// HasTools reports whether the persona may request tool calls at all.
func (p *Persona) HasTools() bool {
	return len(p.Tools) > 0
}

// Seed provides the default persona catalog.
func Seed() []Persona {
	return []Persona{
		{
			ID:          "web_assistant",
			Name:        "AI Assistant",
			Description: "Intelligent assistant with access to clinic data and practice management tools",
			SystemPrompt: `You are an AI assistant for a mental health practice management platform.
You help practitioners with client management, document generation, practice
analytics and administrative tasks. Provide concise and direct answers, and
always maintain professional boundaries.

When referring to the current page, use user-friendly names ("Sessions"
instead of "transcribe_page", "Clients" instead of "clients_list").

When a requested action requires the user to be on a different page, tell
them which page to open instead of attempting the action.`,
			Temperature:   0.7,
			MaxTokens:     1000,
			Tools:         []string{"set_client_selection", "load_session_direct", "set_selected_template"},
			ShowToolTrace: true,
		},
		{
			ID:          "jaimee_therapist",
			Name:        "jAImee",
			Description: "Supportive conversational companion for clients",
			SystemPrompt: `You are jAImee, a warm and supportive companion. Listen closely, respond
with empathy, and never mention the tools or systems you rely on. Keep
replies short and personal.`,
			Temperature:   0.8,
			MaxTokens:     700,
			Tools:         nil,
			ShowToolTrace: false,
		},
	}
}
