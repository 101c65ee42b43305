package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Draft is the user input for a new bookmark.
type Draft struct {
	Title string `validate:"required"`
	URL   string `validate:"required,http_url"`
}

// ValidationError describes why a Draft was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewDraft trims both fields and validates them.
// A nil error means the draft is safe to submit to the store.
func NewDraft(title, rawURL string) (Draft, error) {
	d := Draft{
		Title: strings.TrimSpace(title),
		URL:   strings.TrimSpace(rawURL),
	}
	return d, d.Validate()
}

// Validate checks that title and URL are non-empty and that URL is a
// well-formed absolute http or https URL with a host. Other schemes are
// refused: rows are rendered as links.
func (d Draft) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fromFieldError(verrs[0])
		}
		return &ValidationError{Field: "draft", Message: err.Error()}
	}

	u, err := url.ParseRequestURI(d.URL)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: "url", Message: "must be a valid absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "must use http or https"}
	}
	return nil
}

func fromFieldError(fe validator.FieldError) *ValidationError {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "is required"}
	case "url", "http_url":
		return &ValidationError{Field: field, Message: "must be a valid http or https URL"}
	default:
		return &ValidationError{Field: field, Message: "is invalid"}
	}
}
