package template

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Field limits, in characters.
const (
	NameMinLen      = 2
	NameMaxLen      = 100
	StructureMinLen = 10
	StructureMaxLen = 50000
	NotesMaxLen     = 10000
)

// namePattern allows letters and digits of any script, whitespace and a small
// punctuation set.
var namePattern = regexp.MustCompile(`^[\p{L}\p{N}\s\-_.,()]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("templatename", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateName checks a template name on its own.
func ValidateName(s string) error {
	return validateVar("name", s, "required,min=2,max=100,templatename")
}

// ValidateStructure checks the example structure text on its own.
func ValidateStructure(s string) error {
	return validateVar("structure", s, "required,min=10,max=50000")
}

// ValidateNotes checks the optional guidance text. Empty is valid.
func ValidateNotes(s string) error {
	return validateVar("notes", s, "max=10000")
}

// ValidateCreate applies every field rule and reports all violations at once,
// in field order name, structure, notes.
func ValidateCreate(req CreateRequest) error {
	return fromValidator(validate.Struct(req))
}

// ValidateUpdate rejects a request that defines no field with an
// EMPTY_UPDATE error, then validates the defined fields like ValidateCreate.
func ValidateUpdate(req UpdateRequest) error {
	if req.IsEmpty() {
		return NewEmptyUpdateError()
	}
	return fromValidator(validate.Struct(req))
}

// Normalize sanitizes every content field of the request.
func (r CreateRequest) Normalize() CreateRequest {
	return CreateRequest{
		Name:      Sanitize(r.Name),
		Structure: Sanitize(r.Structure),
		Notes:     Sanitize(r.Notes),
	}
}

// Normalize sanitizes the defined fields of the request.
func (r UpdateRequest) Normalize() UpdateRequest {
	clean := func(p *string) *string {
		if p == nil {
			return nil
		}
		s := Sanitize(*p)
		return &s
	}
	return UpdateRequest{
		Name:      clean(r.Name),
		Structure: clean(r.Structure),
		Notes:     clean(r.Notes),
	}
}

func validateVar(field, value, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(FieldError{Field: field, Message: err.Error()})
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: field, Message: describe(field, fe)})
	}
	return NewValidationError(fields...)
}

func fromValidator(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(FieldError{Field: "request", Message: err.Error()})
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: describe(fe.Field(), fe)})
	}
	return NewValidationError(fields...)
}

func describe(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "templatename":
		return fmt.Sprintf("%s may only contain letters, digits, spaces and - _ . , ( )", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
