package api

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const minPasswordLength = 8

type registerRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ConfirmedPassword string `json:"confirmed_password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordConfirmRequest struct {
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func validEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return false
	}
	local, domain, ok := strings.Cut(value, "@")
	return ok && local != "" && strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".")
}

func checkEmail(errs fieldErrors, field, value string) {
	switch {
	case strings.TrimSpace(value) == "":
		errs.add(field, "This field may not be blank.")
	case !validEmail(strings.TrimSpace(value)):
		errs.add(field, "Enter a valid email address.")
	}
}

func checkPassword(errs fieldErrors, field, value string) {
	switch {
	case value == "":
		errs.add(field, "This field may not be blank.")
	case utf8.RuneCountInString(value) < minPasswordLength:
		errs.add(field, fmt.Sprintf("Ensure this field has at least %d characters.", minPasswordLength))
	}
}

func (req registerRequest) validate() fieldErrors {
	errs := fieldErrors{}
	checkEmail(errs, "email", req.Email)
	checkPassword(errs, "password", req.Password)
	if req.ConfirmedPassword == "" {
		errs.add("confirmed_password", "This field may not be blank.")
	}
	if len(errs) == 0 && req.Password != req.ConfirmedPassword {
		errs.add("non_field_errors", "Passwords do not match.")
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (req loginRequest) validate() fieldErrors {
	errs := fieldErrors{}
	if strings.TrimSpace(req.Email) == "" {
		errs.add("email", "This field may not be blank.")
	}
	if req.Password == "" {
		errs.add("password", "This field may not be blank.")
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (req passwordResetRequest) validate() fieldErrors {
	errs := fieldErrors{}
	checkEmail(errs, "email", req.Email)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (req passwordConfirmRequest) validate() fieldErrors {
	errs := fieldErrors{}
	checkPassword(errs, "new_password", req.NewPassword)
	checkPassword(errs, "confirm_password", req.ConfirmPassword)
	if len(errs) == 0 && req.NewPassword != req.ConfirmPassword {
		errs.add("non_field_errors", "Passwords do not match.")
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
