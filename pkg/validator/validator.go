package validator

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// Validator wraps go-playground/validator with english messages keyed by the
// json name of each field.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
)

func New() *Validator {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")

	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic("failed to register validator default translations: " + err.Error())
	}

	return &Validator{
		validate:   validate,
		translator: trans,
	}
}

// Default returns a process wide validator; building one registers all
// translations so it is done once.
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultV = New()
	})
	return defaultV
}

func (v *Validator) Struct(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make(map[string]string, len(validationErrors))
	for _, fe := range validationErrors {
		fields[fe.Field()] = fe.Translate(v.translator)
	}
	return &ValidationError{Errors: fields}
}

type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		keys = append(keys, field)
	}
	sort.Strings(keys)

	messages := make([]string, 0, len(keys))
	for _, field := range keys {
		messages = append(messages, field+": "+e.Errors[field])
	}
	return strings.Join(messages, "; ")
}
