package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Builtins returns the UI-directive capabilities every deployment carries.
// They produce no backend effects; their whole output is a ui_action the
// frontend replays, exactly as if the user had clicked through it.
func Builtins() []Capability {
	return []Capability{
		clientSelection{},
		loadSessionDirect{},
		selectTemplate{},
	}
}

const sessionsPageURL = "/live-transcribe"

// navigationRequired is returned when the current page cannot host the
// requested UI action; the model relays the link to the user.
func navigationRequired(userMessage string) Result {
	return DataResult(map[string]any{
		"status":       "navigation_required",
		"user_message": userMessage,
		"navigation_link": map[string]any{
			"text":      "Go to Sessions Page",
			"url":       sessionsPageURL,
			"page_type": "transcribe_page",
		},
	})
}

func uiActionResult(action map[string]any, userMessage string, extra map[string]any) Result {
	data := map[string]any{
		"status":       "ui_action_requested",
		"ui_action":    action,
		"user_message": userMessage,
	}
	for k, v := range extra {
		data[k] = v
	}
	return DataResult(data)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

type clientSelection struct{}

func (clientSelection) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "set_client_selection",
		Desc: "Select a client in the UI, like choosing them from the client dropdown on the Sessions page.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"client_id":   {Type: schema.String, Desc: "Full client identifier", Required: true},
			"client_name": {Type: schema.String, Desc: "Display name of the client", Required: true},
		}),
	}
}

func (clientSelection) Execute(_ context.Context, ec ExecContext, args map[string]any) Result {
	clientID := stringArg(args, "client_id")
	clientName := stringArg(args, "client_name")
	if clientID == "" || clientName == "" {
		return ErrorResult("client_id and client_name are required")
	}

	if !ec.Page.Allows("set_client_selection") {
		return navigationRequired(fmt.Sprintf("To select '%s', you need to be on the Sessions page. Please click the link below:", clientName))
	}

	action := map[string]any{
		"type":   "set_client_selection",
		"target": "live_transcribe_page",
		"payload": map[string]any{
			"clientId":   clientID,
			"clientName": clientName,
		},
	}
	return uiActionResult(action,
		fmt.Sprintf("Selected client '%s' in the interface.", clientName),
		map[string]any{"client_id": clientID, "client_name": clientName},
	)
}

type loadSessionDirect struct{}

func (loadSessionDirect) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "load_session_direct",
		Desc: "Load a transcription session into the UI as a new tab, like clicking the Load Session button.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"session_id":  {Type: schema.String, Desc: "Identifier of the recorded session", Required: true},
			"client_id":   {Type: schema.String, Desc: "Full client identifier", Required: true},
			"client_name": {Type: schema.String, Desc: "Display name of the client", Required: true},
			"recording_date": {Type: schema.String, Desc: "Recording date, ISO 8601"},
		}),
	}
}

func (loadSessionDirect) Execute(_ context.Context, ec ExecContext, args map[string]any) Result {
	sessionID := stringArg(args, "session_id")
	clientID := stringArg(args, "client_id")
	clientName := stringArg(args, "client_name")
	if sessionID == "" || clientID == "" || clientName == "" {
		return ErrorResult("session_id, client_id, and client_name are required")
	}

	if !ec.Page.Allows("load_session_direct") {
		return navigationRequired(fmt.Sprintf("To load sessions for '%s', you need to be on the Sessions page. Please click the link below:", clientName))
	}

	action := map[string]any{
		"type":   "load_session_direct",
		"target": "live_transcribe_page",
		"payload": map[string]any{
			"sessionId":     sessionID,
			"clientId":      clientID,
			"clientName":    clientName,
			"recordingDate": stringArg(args, "recording_date"),
		},
	}
	return uiActionResult(action,
		fmt.Sprintf("Loading session for '%s' into a new tab. The session will appear shortly.", clientName),
		map[string]any{"session_id": sessionID, "client_id": clientID},
	)
}

type selectTemplate struct{}

func (selectTemplate) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "set_selected_template",
		Desc: "Select a document template for generation on the Sessions page.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"template_id":   {Type: schema.String, Desc: "Template identifier", Required: true},
			"template_name": {Type: schema.String, Desc: "Template display name", Required: true},
		}),
	}
}

func (selectTemplate) Execute(_ context.Context, ec ExecContext, args map[string]any) Result {
	templateID := stringArg(args, "template_id")
	templateName := stringArg(args, "template_name")
	if templateID == "" || templateName == "" {
		return ErrorResult("template_id and template_name are required")
	}

	if !ec.Page.Allows("set_selected_template") {
		return navigationRequired(fmt.Sprintf("To select the '%s' template, you need to be on the Sessions page. Please click the link below:", templateName))
	}

	action := map[string]any{
		"type":   "set_selected_template",
		"target": "live_transcribe_page",
		"payload": map[string]any{
			"templateId":   templateID,
			"templateName": templateName,
		},
	}
	return uiActionResult(action,
		fmt.Sprintf("Selected template '%s' for document generation.", templateName),
		map[string]any{"template_id": templateID, "template_name": templateName},
	)
}
