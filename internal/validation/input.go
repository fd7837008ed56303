// Package validation checks request payloads and path ids before they reach the engine.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/qninhdt/storyforge/server/internal/game"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("slot", func(fl validator.FieldLevel) bool {
		_, err := game.ParseSlot(fl.Field().String())
		return err == nil
	})
	return v
}

// StartSessionRequest picks the character to play
type StartSessionRequest struct {
	CharacterID string `json:"characterId" validate:"required,max=128"`
}

// ActionRequest is one player action
type ActionRequest struct {
	Action     string `json:"action" validate:"required"`
	ActionType string `json:"actionType" validate:"omitempty,oneof=attack persuade investigate stealth custom"`
}

// Input converts the request into engine input
func (r ActionRequest) Input() game.ActionInput {
	return game.ActionInput{Text: r.Action, Type: game.ActionType(r.ActionType)}
}

// EquipRequest moves an inventory item into a slot
type EquipRequest struct {
	ItemID string `json:"itemId" validate:"required,max=128"`
	Slot   string `json:"slot" validate:"required,slot"`
}

// UnequipRequest empties a slot
type UnequipRequest struct {
	Slot string `json:"slot" validate:"required,slot"`
}

// Struct validates a request payload. Failures wrap game.ErrValidation.
func Struct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("%w: %v", game.ErrValidation, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", game.ErrValidation, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "slot":
		return fmt.Sprintf("%s %q is not an equipment slot", fe.Field(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// ValidateID validates a path id (session, campaign, quest, objective)
func ValidateID(kind, id string) error {
	if len(id) == 0 || len(id) > 128 {
		return fmt.Errorf("%w: %s id must be 1-128 characters", game.ErrValidation, kind)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %s id can only contain alphanumeric characters, dots, hyphens, and underscores", game.ErrValidation, kind)
	}
	return nil
}
