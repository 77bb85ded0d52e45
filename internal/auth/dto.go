package auth

import (
	"github.com/dojohq/booking-management/internal"
	"github.com/dojohq/booking-management/internal/core/common/validation"
)

type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (d *LoginDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().MaxLength(255)
	v.Field("password", d.Password).Required()
	return v.Validate()
}

type RegisterDTO struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

func (d *RegisterDTO) Validate() *internal.AppError {
	v := validation.NewValidator()
	v.Field("email", d.Email).Required().MaxLength(255)
	v.Field("name", d.Name).Required().MaxLength(120)
	v.Field("password", d.Password).Required().Custom(func(val interface{}) *internal.AppError {
		s, _ := val.(string)
		if len(s) < 8 {
			return internal.NewValidationFieldError("password", "must be at least 8 characters", internal.ErrCodeValidationFailed)
		}
		return nil
	})
	return v.Validate()
}

type UserResponse struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number,omitempty"`
}
