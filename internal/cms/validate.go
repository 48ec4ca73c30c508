package cms

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"cms-go/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// versionFields is the validated view of a version's metadata.
type versionFields struct {
	VersionNumber    int      `json:"version_number" validate:"min=1"`
	Title            string   `json:"title" validate:"max=1024"`
	EditorAccountID  string   `json:"editor_account_id" validate:"max=255"`
	Reason           string   `json:"reason" validate:"max=4096"`
	Filename         string   `json:"filename" validate:"max=255,excludesall=/\\"`
	Addresses        []string `json:"addresses" validate:"max=256"`
	ParentArticleIDs []string `json:"parent_article_ids" validate:"max=64,dive,required,max=64"`
	ViewMode         int64    `json:"view_mode" validate:"min=0,max=63"`
}

func validateRecord(rec *model.Version) error {
	if rec.PublicationDate.IsZero() {
		return &ValidationError{Field: "publication_date", Reason: "is required"}
	}
	err := validate.Struct(versionFields{
		VersionNumber:    rec.VersionNumber,
		Title:            rec.Title,
		EditorAccountID:  rec.EditorAccountID,
		Reason:           rec.Reason,
		Filename:         rec.Filename,
		Addresses:        rec.Addresses,
		ParentArticleIDs: rec.ParentArticleIDs,
		ViewMode:         rec.ViewMode,
	})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return formatFieldError(fieldErrs[0])
	}
	return err
}

func formatFieldError(e validator.FieldError) *ValidationError {
	field, _, _ := strings.Cut(e.Field(), "[")
	var reason string
	switch e.Tag() {
	case "required":
		reason = "is required"
	case "min":
		reason = fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		reason = fmt.Sprintf("must be at most %s", e.Param())
	case "excludesall":
		reason = fmt.Sprintf("must not contain any of %q", e.Param())
	default:
		reason = "is invalid"
	}
	return &ValidationError{Field: field, Reason: reason}
}
