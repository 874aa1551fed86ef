package api

import "github.com/go-playground/validator/v10"

// RequestValidator adapts go-playground/validator to echo.Validator, so
// handlers can call c.Bind then c.Validate on every request DTO.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}
