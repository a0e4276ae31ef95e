package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/convoflow/convoflow/pkg/models"
)

// validateInput checks inbound message content against the wait's expected
// input type, pattern, and options. Rejection leaves the wait intact.
func (m *Manager) validateInput(wait *models.WaitingContext, event *models.InputEvent) error {
	content := strings.TrimSpace(event.Content)

	if content == "" && wait.ExpectedInput != models.InputTypeAny {
		return &ValidationError{Expected: wait.ExpectedInput, Reason: "empty message"}
	}

	switch wait.ExpectedInput {
	case models.InputTypeAny, models.InputTypeText, "":
	case models.InputTypeNumber:
		if err := m.validate.Var(content, "required,numeric"); err != nil {
			return &ValidationError{Expected: wait.ExpectedInput, Reason: fmt.Sprintf("%q is not a number", content)}
		}
	case models.InputTypeEmail:
		if err := m.validate.Var(content, "required,email"); err != nil {
			return &ValidationError{Expected: wait.ExpectedInput, Reason: fmt.Sprintf("%q is not an email address", content)}
		}
	case models.InputTypePhone:
		if err := m.validate.Var(content, "required,e164"); err != nil {
			return &ValidationError{Expected: wait.ExpectedInput, Reason: fmt.Sprintf("%q is not an E.164 phone number", content)}
		}
	case models.InputTypeOption:
		if !matchesOption(content, wait.Options) {
			return &ValidationError{
				Expected: wait.ExpectedInput,
				Reason:   fmt.Sprintf("%q is not one of the offered options", content),
			}
		}
	default:
		return &ValidationError{Expected: wait.ExpectedInput, Reason: "unknown expected input type"}
	}

	if wait.Pattern != "" {
		re, err := regexp.Compile(wait.Pattern)
		if err != nil {
			return fmt.Errorf("invalid wait pattern %q: %w", wait.Pattern, err)
		}

		if !re.MatchString(content) {
			return &ValidationError{Expected: wait.ExpectedInput, Reason: "message does not match the expected pattern"}
		}
	}

	return nil
}

func matchesOption(content string, options []string) bool {
	for _, option := range options {
		if strings.EqualFold(content, strings.TrimSpace(option)) {
			return true
		}
	}

	return false
}
