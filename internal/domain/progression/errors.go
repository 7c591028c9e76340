package progression

import (
	"errors"

	"github.com/ascend-app/ascend/internal/domain/shared"
)

// Ошибки домена прогрессии.
var (
	ErrUserNotFound       = shared.NewDomainError("progression", "GetUser", shared.ErrNotFound, "user not found")
	ErrQuestNotFound      = shared.NewDomainError("progression", "GetQuest", shared.ErrNotFound, "quest not found")
	ErrStoreUnavailable   = shared.NewDomainError("progression", "Store", shared.ErrServiceUnavailable, "store unavailable")
	ErrInvariantViolation = shared.NewDomainError("progression", "Complete", shared.ErrInvalidState, "progression invariant violated")
	ErrInvalidDisplayName = shared.NewDomainError("progression", "Validate", shared.ErrInvalidInput, "invalid display name")
	ErrInvalidFocusAreas  = shared.NewDomainError("progression", "Validate", shared.ErrInvalidInput, "invalid focus areas")
	ErrInvalidQuest       = shared.NewDomainError("progression", "Validate", shared.ErrInvalidInput, "invalid quest definition")
)

// Unavailable помечает временный отказ хранилища (сериализация, deadlock, потеря
// соединения, занятая база, таймаут). Такие ошибки движок повторяет.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return shared.WrapError("progression", op, ErrStoreUnavailable, "store unavailable", err)
}

// IsUnavailable сообщает, что ошибка - временный отказ хранилища.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
