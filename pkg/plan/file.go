package plan

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/dialplan/extaudit/pkg/errors"
)

// Save writes the plan as YAML for operator review and editing.
func Save(p *Plan, path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan file: %w", err)
	}
	return nil
}

// Load reads an operator-reviewed plan file and validates the editable
// fields. Edits survive the round trip; anything the validator rejects names
// the offending item so the operator can fix the file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.WrapValidation("plan file", err)
	}
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every item for an executable action and the fields the
// action requires.
func Validate(p *Plan) error {
	for i := range p.Items {
		item := &p.Items[i]

		action, ok := ParseAction(string(item.Action))
		if !ok {
			return errors.NewValidationError(
				fmt.Sprintf("items[%d].action", i), item.Action,
				fmt.Sprintf("unknown action %q", item.Action))
		}
		item.Action = action

		if item.UserID == "" && action != ActionNone {
			return errors.NewValidationError(
				fmt.Sprintf("items[%d].user_id", i), "", "missing user_id")
		}
		if action == ActionAssignSpecific && item.RecommendedNumber == "" {
			return errors.NewValidationError(
				fmt.Sprintf("items[%d].recommended_number", i), "",
				"assign action requires recommended_number")
		}
	}
	return nil
}
