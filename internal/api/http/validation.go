package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
)

// maxBodyBytes ограничивает размер тела запроса
const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator возвращает singleton валидатора: имена полей берутся из json тегов,
// плюс правило percent для decimal.Decimal (0..100)
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		vld := validator.New(validator.WithRequiredStructEnabled())
		vld.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		// decimal.Decimal нельзя регистрировать как custom type: правило читает поле напрямую
		_ = vld.RegisterValidation("percent", func(fl validator.FieldLevel) bool {
			d, ok := fl.Field().Interface().(decimal.Decimal)
			if !ok {
				return false
			}
			return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(100))
		})
		validate = vld
	})
	return validate
}

// decodeJSON читает тело запроса в dst и проверяет validate теги.
// Любая ошибка возвращается как apperr Validation.
func decodeJSON(r *http.Request, dst any) error {
	const op = "httpapi.decode"

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation(op, "body", "request body is required")
		}
		return apperr.Wrap(apperr.KindValidation, op, "invalid JSON body", err)
	}

	return validateStruct(dst)
}

func validateStruct(v any) error {
	const op = "httpapi.validate"

	if err := getValidator().Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return apperr.Validation(op, fieldPath(fe), describe(fe))
		}
		return apperr.Wrap(apperr.KindValidation, op, "validation failed", err)
	}
	return nil
}

// fieldPath убирает имя корневой структуры: "saleRequest.lines[0].quantity" -> "lines[0].quantity"
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "ne":
		return fmt.Sprintf("must not be %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "percent":
		return "must be between 0 and 100"
	case "datetime":
		return fmt.Sprintf("must be a date in %s format", fe.Param())
	case "nefield":
		return fmt.Sprintf("must differ from %s", fe.Param())
	}
	return "is invalid (" + fe.Tag() + ")"
}
