// Package shared содержит общие для доменов ошибки, события и value objects.
// Пакет не зависит от инфраструктуры.
package shared

import (
	"errors"
	"fmt"
)

// Виды ошибок. Конкретные доменные ошибки ссылаются на один из них через
// DomainError.Kind, а адаптеры проверяют вид через errors.Is.
var (
	ErrNotFound = errors.New("not found")

	ErrInvalidID       = errors.New("invalid id")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")

	ErrInvalidState = errors.New("invalid state")

	// ErrServiceUnavailable - временный отказ хранилища или внешнего сервиса;
	// операцию можно повторить.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError - ошибка с доменным контекстом: где (Domain.Op), какого вида
// (Kind) и по какой причине (Err).
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
}

// Unwrap отдаёт причину, а при её отсутствии - вид ошибки.
func (e *DomainError) Unwrap() error {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err
}

// Is сопоставляет и вид, и причину.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError создаёт ошибку-значение, обычно sentinel уровня пакета.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return WrapError(domain, op, kind, message, nil)
}

// WrapError оборачивает err доменным контекстом.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ErrInvalidUserID - идентификатор пользователя не является положительным числом.
var ErrInvalidUserID = NewDomainError("user", "Parse", ErrInvalidID, "invalid user id")

// IsNotFound сообщает, что сущность не найдена.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation сообщает, что виноват ввод вызывающего.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrInvalidID, ErrInvalidInput, ErrValueOutOfRange} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsRetryable сообщает, что операцию имеет смысл повторить.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
