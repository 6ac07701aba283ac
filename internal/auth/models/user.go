package models

import (
	"github.com/go-playground/validator/v10"

	dErrors "blogfront/pkg/domain-errors"
)

// Role is the platform role carried on a user record.
type Role string

const (
	RoleReader Role = "reader"
	RoleAuthor Role = "author"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// User is the user-service record for the signed-in user. It is replaced
// wholesale on exchange and verification, never patched. Role is taken as
// sent; roles outside the known four carry no capabilities.
type User struct {
	ID        string `json:"id" validate:"required"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      Role   `json:"role"`
}

var validate = validator.New()

// Validate checks a user record received from the user-service or loaded from
// persistence.
func (u *User) Validate() error {
	if u == nil {
		return dErrors.New(dErrors.CodeValidation, "user is required")
	}
	if err := validate.Struct(u); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid user record")
	}
	return nil
}

// DisplayName prefers the full name, then username, then email.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" || u.LastName != "":
		if u.FirstName == "" {
			return u.LastName
		}
		if u.LastName == "" {
			return u.FirstName
		}
		return u.FirstName + " " + u.LastName
	case u.Username != "":
		return u.Username
	default:
		return u.Email
	}
}
