// Package template provides templating for dynamic node configuration,
// rendered against the session's variables and the triggering input event.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/convoflow/convoflow/pkg/protocol"
)

// RenderWithContext renders a templated string against the execution
// context: resolved variables, session data, node state, and the inbound
// event when present.
func RenderWithContext(ctx context.Context, input string, ec *protocol.ExecutionContext) (any, error) {
	snapshot := map[string]any{}

	if ec.Variables != nil {
		vars, err := ec.Variables.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot variables: %w", err)
		}

		snapshot = vars
	}

	data := map[string]any{
		"variables": snapshot,
		"vars":      snapshot,
		"session": map[string]any{
			"id":              ec.Session.ID,
			"flow_id":         ec.Session.FlowID,
			"conversation_id": ec.Session.ConversationID,
			"contact_id":      ec.Session.ContactID,
			"status":          string(ec.Session.Status),
			"current_node":    ec.Session.CurrentNodeID,
		},
		"session_data": ec.Session.SessionData,
	}

	if ec.Node != nil {
		data["node_state"] = ec.Session.NodeState[ec.Node.ID]
	}

	if ec.Input != nil {
		data["input"] = map[string]any{
			"kind":         string(ec.Input.Kind),
			"content":      ec.Input.Content,
			"channel_type": ec.Input.ChannelType,
			"external_id":  ec.Input.ExternalID,
			"metadata":     ec.Input.Metadata,
		}
	}

	return Render(input, data)
}

// Render parses and executes a template, then coerces the result: JSON-like
// output is decoded, numeric and boolean strings become their typed values,
// everything else stays a string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("node").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
			"trim":  strings.TrimSpace,
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderString renders and requires a string result.
func RenderString(ctx context.Context, input string, ec *protocol.ExecutionContext) (string, error) {
	rendered, err := RenderWithContext(ctx, input, ec)
	if err != nil {
		return "", err
	}

	switch v := rendered.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode rendered value: %w", err)
		}

		return string(encoded), nil
	}
}
