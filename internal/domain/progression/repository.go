package progression

import (
	"context"

	"github.com/ascend-app/ascend/pkg/timeutil"
)

// Store - транзакционное хранилище пользователей, на котором работает движок.
type Store interface {
	// InTx выполняет fn в одной транзакции, эксклюзивной для пользователя userID.
	// Ошибка из fn откатывает всё; nil фиксирует. Блокировка снимается в любом случае.
	// Транзакции разных пользователей не разделяют блокировок.
	InTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx Tx) error) error
}

// Tx - операции внутри транзакции Store.InTx.
type Tx interface {
	// GetUserForUpdate читает пользователя под эксклюзивной блокировкой или возвращает ErrUserNotFound.
	GetUserForUpdate(ctx context.Context, userID int64) (*User, error)

	// InsertCompletionIfAbsent атомарно записывает выполнение, если для
	// (UserID, QuestID, CreditDate) записи ещё нет. inserted=false - запись уже существует.
	InsertCompletionIfAbsent(ctx context.Context, c Completion) (inserted bool, err error)

	// UpdateProgress сохраняет изменения прогрессии пользователя.
	UpdateProgress(ctx context.Context, userID int64, update ProgressUpdate) error
}

// UserRepository - операции с пользователями вне движка прогрессии.
type UserRepository interface {
	// GetOrCreate возвращает существующего пользователя или сохраняет u. created=true для нового.
	GetOrCreate(ctx context.Context, u *User) (user *User, created bool, err error)

	// GetByID возвращает пользователя или ErrUserNotFound.
	GetByID(ctx context.Context, id int64) (*User, error)

	// UpdateProfile меняет имя и/или фокусные характеристики, возвращает обновлённого пользователя.
	UpdateProfile(ctx context.Context, id int64, update ProfileUpdate) (*User, error)

	// CompletedQuestIDs возвращает ID квестов, засчитанных пользователю в день date.
	CompletedQuestIDs(ctx context.Context, userID int64, date timeutil.Date) ([]int64, error)

	// ListByLastActive возвращает пользователей, чей последний активный день равен date.
	ListByLastActive(ctx context.Context, date timeutil.Date) ([]*User, error)
}

// QuestRepository - хранимый каталог квестов.
type QuestRepository interface {
	QuestCatalog

	// UpsertQuests создаёт или обновляет определения квестов по ID.
	UpsertQuests(ctx context.Context, quests []QuestDefinition) error
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}
