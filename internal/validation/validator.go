// Package validation normalises and checks the payment form before anything is sent
// to the gateway.
package validation

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"kassa-service/internal/model"
)

// Raw form field names.
const (
	FieldContract = "contract"
	FieldSurname  = "surname"
	FieldName     = "name"
	FieldPatronym = "patronym"
	FieldSum      = "sum"
	FieldEmail    = "email"
)

var (
	cyrillicWord = regexp.MustCompile(`^[а-яА-ЯёЁ]+$`)
	// plainAmount fits NUMERIC(12,2) once rounded to kopecks. Exponent notation is
	// rejected before any decimal parsing.
	plainAmount = regexp.MustCompile(`^\d{1,10}(\.\d{1,8})?$`)
)

var messages = map[string]string{
	FieldContract: "contract number is required, at most 64 characters",
	FieldSurname:  "surname must consist of Russian letters, at most 128",
	FieldName:     "name must consist of Russian letters, at most 128",
	FieldPatronym: "patronym must consist of Russian letters, at most 128",
	FieldSum:      "sum must be a number greater than 0 and below 10000000000",
	FieldEmail:    "email must be a valid address, e.g. vasya@mail.ru",
}

// Field order is the order violations are reported in.
type paymentForm struct {
	Contract string `form:"contract" validate:"required,max=64"`
	Surname  string `form:"surname" validate:"max=128,cyrillic"`
	Name     string `form:"name" validate:"max=128,cyrillic"`
	Patronym string `form:"patronym" validate:"max=128,cyrillic"`
	Sum      string `form:"sum" validate:"amount"`
	Email    string `form:"email" validate:"required,max=255,email"`
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("form")
	})
	if err := v.RegisterValidation("cyrillic", func(fl validator.FieldLevel) bool {
		return cyrillicWord.MatchString(fl.Field().String())
	}); err != nil {
		panic(errors.Wrap(err, "register cyrillic validation"))
	}
	if err := v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, ok := parseAmount(fl.Field().String())
		return ok
	}); err != nil {
		panic(errors.Wrap(err, "register amount validation"))
	}
	return &Validator{validate: v}
}

// Parse normalises raw and validates the result. Only the first violation is reported.
func (v *Validator) Parse(raw map[string]string) (model.Form, error) {
	f := normalize(raw)

	if err := v.validate.Struct(f); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			field := fieldErrs[0].Field()
			return model.Form{}, &model.ValidationError{Field: field, Message: messages[field]}
		}
		return model.Form{}, errors.Wrap(err, "validate payment form")
	}

	amount, _ := parseAmount(f.Sum)

	return model.Form{
		Contract: f.Contract,
		Payer: model.Payer{
			Surname:  f.Surname,
			Name:     f.Name,
			Patronym: f.Patronym,
		},
		Amount: amount,
		Email:  f.Email,
	}, nil
}

func normalize(raw map[string]string) paymentForm {
	field := func(key string) string {
		return strings.TrimSpace(raw[key])
	}

	f := paymentForm{
		Contract: field(FieldContract),
		Surname:  titleCase(field(FieldSurname)),
		Name:     titleCase(field(FieldName)),
		Patronym: titleCase(field(FieldPatronym)),
		Sum:      field(FieldSum),
		Email:    field(FieldEmail),
	}

	if plainAmount.MatchString(f.Sum) {
		if d, err := decimal.NewFromString(f.Sum); err == nil {
			f.Sum = d.StringFixed(2)
		}
	}

	return f
}

// parseAmount accepts only plain positive decimals that fit the amount column.
func parseAmount(s string) (decimal.Decimal, bool) {
	if !plainAmount.MatchString(s) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// titleCase lower-cases s and upper-cases its first letter. Casers are not safe for
// concurrent use, so one is built per call.
func titleCase(s string) string {
	return cases.Title(language.Russian).String(strings.ToLower(s))
}
