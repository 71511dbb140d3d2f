// Package apperr описывает таксономию ошибок ledger-ядра.
//
// Каждая операция ядра возвращает либо результат, либо *Error одного из видов ниже.
// Повторять автоматически можно только KindConflict.
package apperr

import (
	"errors"
	"fmt"
)

// Kind вид ошибки
type Kind string

const (
	// KindValidation - некорректный или выходящий за границы ввод
	KindValidation Kind = "validation"
	// KindNotFound - отсутствует товар, партия или продажа
	KindNotFound Kind = "not_found"
	// KindInsufficientStock - запрошено больше, чем доступно в подходящих партиях
	KindInsufficientStock Kind = "insufficient_stock"
	// KindInvariantViolation - изменение нарушило бы reserved <= on_hand или on_hand >= 0
	KindInvariantViolation Kind = "invariant_violation"
	// KindConflict - обнаружено конкурентное изменение, можно повторить
	KindConflict Kind = "conflict"
	// KindState - операция недопустима в текущем статусе
	KindState Kind = "state"
)

// Error - структурированная ошибка ядра
type Error struct {
	Kind    Kind
	Op      string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is позволяет сравнивать через errors.Is с шаблоном, у которого задан только Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// Шаблоны для errors.Is(err, apperr.ErrNotFound)
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInsufficientStock  = &Error{Kind: KindInsufficientStock}
	ErrInvariantViolation = &Error{Kind: KindInvariantViolation}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrState              = &Error{Kind: KindState}
)

// New создаёт ошибку указанного вида
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf создаёт ошибку с форматированным сообщением
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает причину, сохраняя вид
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Validation - ошибка валидации конкретного поля
func Validation(op, field, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Message: message}
}

// NotFound - отсутствующая сущность
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Field: entity, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// KindOf возвращает вид ошибки или пустую строку, если err не *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable true только для конфликтов конкурентного доступа
func IsRetryable(err error) bool {
	return KindOf(err) == KindConflict
}
