package config

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New()
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("config: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	if err := registerTemplateURL(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// registerTemplateURL adds the template_url tag: an absolute URL, or any
// string holding a {{...}} template, which is checked once resolved.
func registerTemplateURL(v *validator.Validate, trans ut.Translator) error {
	err := v.RegisterValidation("template_url", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.Contains(s, "{{") {
			return true
		}
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	})
	if err != nil {
		return err
	}
	return v.RegisterTranslation("template_url", trans,
		func(ut ut.Translator) error {
			return ut.Add("template_url", "{0} must be a URL or a template", true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T("template_url", fe.Field())
			return t
		},
	)
}

// ValidateStruct checks val against its validate tags. Failures are
// returned as FieldErrors.
func ValidateStruct(val any) error {
	err := validate.Struct(val)
	if err == nil {
		return nil
	}

	var verrors validator.ValidationErrors
	if !errors.As(err, &verrors) {
		return err
	}

	fields := make(FieldErrors, 0, len(verrors))
	for _, verror := range verrors {
		fields = append(fields, FieldError{
			Field: fieldPath(verror.Namespace()),
			Err:   verror.Translate(translator),
		})
	}
	return fields
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// FieldError is a validation failure of a single field.
type FieldError struct {
	Field string
	Err   string
}

// FieldErrors is every validation failure of a struct.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Field + ": " + f.Err
	}
	return strings.Join(parts, "; ")
}
