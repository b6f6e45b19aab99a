package cli

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validEmail rejects malformed addresses before a provider round trip
func validEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%q is not a valid email address", email)
	}
	return nil
}

// validPassword enforces the provider's minimum length locally
func validPassword(password string) error {
	if err := validate.Var(password, "required,min=8"); err != nil {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}
