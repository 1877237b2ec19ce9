package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/lingoreach/exam-session-service/internal/errors"
	"github.com/lingoreach/exam-session-service/internal/models"
)

// Validator wraps the struct validator with the service's custom rules.
type Validator struct {
	structValidator *validator.Validate
}

// New creates a new validator instance with custom rules registered.
func New() *Validator {
	structValidator := validator.New()
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator: structValidator,
	}
}

// Validate validates struct tags and maps failures to the shared
// ValidationErrors type.
func (v *Validator) Validate(s interface{}) error {
	if err := v.structValidator.Struct(s); err != nil {
		if ve := apperrors.ToValidationErrors(err); len(ve) > 0 {
			return ve
		}
		return err
	}
	return nil
}

func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("skill_type", validateSkillType)
	validate.RegisterValidation("section_kind", validateSectionKind)

	// Report json field names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateSkillType(fl validator.FieldLevel) bool {
	validTypes := []models.SkillType{
		models.SkillVocabulary,
		models.SkillGrammar,
		models.SkillReading,
		models.SkillListening,
		models.SkillSpeaking,
		models.SkillWriting,
	}

	value := fl.Field().String()
	for _, validType := range validTypes {
		if string(validType) == value {
			return true
		}
	}
	return false
}

func validateSectionKind(fl validator.FieldLevel) bool {
	validKinds := []models.SectionKind{
		models.SectionObjective,
		models.SectionWriting,
	}

	value := fl.Field().String()
	for _, validKind := range validKinds {
		if string(validKind) == value {
			return true
		}
	}
	return false
}
