package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct checks the `validate` tags of v and reports failures as
// ErrValidation.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace()+" ("+fe.Tag()+")")
		}
		return Validationf("invalid %s", strings.Join(fields, ", "))
	}
	return Validationf("%v", err)
}

// Usernames and group names share the column bounds of their tables.
const (
	MaxUsernameLen  = 28
	MaxGroupNameLen = 24
)

type usernameInput struct {
	Username string `validate:"required,max=28,printascii"`
}

// ValidateUsername checks a username against the users table bounds.
func ValidateUsername(username string) error {
	if strings.ContainsAny(username, " \t") {
		return Validationf("username %q contains whitespace", username)
	}
	return ValidateStruct(usernameInput{Username: username})
}

type groupInput struct {
	Name   string `validate:"required,max=24"`
	Leader string `validate:"required,max=28,printascii"`
}

// ValidateNewGroup checks the inputs of a group creation.
func ValidateNewGroup(name, leader string) error {
	if strings.ContainsAny(leader, " \t") {
		return Validationf("username %q contains whitespace", leader)
	}
	return ValidateStruct(groupInput{Name: name, Leader: leader})
}
