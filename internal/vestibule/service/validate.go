package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BrandonDHaskell/vestibule/internal/vestibule/types"
	"github.com/BrandonDHaskell/vestibule/internal/vestibule/visit"
)

const purposeOther = "Other"

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// submission is a validated registration entry.
type submission struct {
	Name    string
	Email   string
	Phone   string
	Details visit.Details
}

// normalize trims in, validates it and composes the stored fields.  Field
// names in the returned errors are prefixed with prefix.
func normalize(v *validator.Validate, in types.SubmitRequest, prefix string, ve *visit.ValidationError) (submission, bool) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.MiddleInitial = strings.TrimSpace(in.MiddleInitial)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Purpose = strings.TrimSpace(in.Purpose)
	in.OtherPurpose = strings.TrimSpace(in.OtherPurpose)
	in.Destination = strings.TrimSpace(in.Destination)
	in.Address = strings.TrimSpace(in.Address)
	if in.NoEmail {
		in.Email = ""
	}

	before := len(ve.Fields)
	if err := v.Struct(in); err != nil {
		var fes validator.ValidationErrors
		if !errors.As(err, &fes) {
			ve.Add(prefix+"request", "invalid")
			return submission{}, false
		}
		for _, fe := range fes {
			ve.Add(prefix+fe.Field(), reason(fe))
		}
	}
	if !in.NoEmail && in.Email == "" {
		ve.Add(prefix+"email", "required unless no_email is set")
	}
	purpose := in.Purpose
	if purpose == purposeOther {
		if in.OtherPurpose == "" {
			ve.Add(prefix+"other_purpose", "required")
		}
		purpose = in.OtherPurpose
	}
	if len(ve.Fields) > before {
		return submission{}, false
	}

	return submission{
		Name:  fullName(in.FirstName, in.MiddleInitial, in.LastName),
		Email: in.Email,
		Phone: in.Phone,
		Details: visit.Details{
			Purpose:     purpose,
			Destination: in.Destination,
			Address:     in.Address,
		},
	}, true
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "email":
		return "invalid email"
	case "max":
		return fmt.Sprintf("at most %s characters", fe.Param())
	default:
		return fe.Tag()
	}
}

// fullName renders "First M. Last".  Only the first letter of the middle
// initial is kept.
func fullName(first, middle, last string) string {
	if middle == "" {
		return first + " " + last
	}
	initial := strings.ToUpper(string([]rune(middle)[0]))
	return first + " " + initial + ". " + last
}
