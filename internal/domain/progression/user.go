package progression

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ascend-app/ascend/internal/domain/shared"
	"github.com/ascend-app/ascend/pkg/timeutil"
)

const (
	// DefaultDisplayName - имя, если Telegram не прислал имени.
	DefaultDisplayName = "Warrior"
	// MaxDisplayNameLength - максимальная длина имени в символах.
	MaxDisplayNameLength = 64
)

// User - участник с вектором характеристик и серией дней.
// Ступень Stage всегда равна StageFor(Stats) после успешной транзакции.
type User struct {
	// ID - идентификатор пользователя Telegram.
	ID int64

	Username    string
	DisplayName string

	// FocusAreas - характеристики, которые пользователь выбрал приоритетными.
	FocusAreas []StatKey

	Stats  StatVector
	Stage  RankStage
	Streak int

	// LastActive - календарный день последнего засчитанного квеста; нулевое значение - ни разу.
	LastActive timeutil.Date

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUser создаёт пользователя при первом контакте: все характеристики 0.3, серия 0.
func NewUser(id int64, username, displayName string, now time.Time) (*User, error) {
	if _, err := shared.NewUserID(id); err != nil {
		return nil, err
	}
	name, err := NormalizeDisplayName(displayName)
	if err != nil {
		name = DefaultDisplayName
	}
	stats := DefaultStatVector()
	return &User{
		ID:          id,
		Username:    strings.TrimPrefix(strings.TrimSpace(username), "@"),
		DisplayName: name,
		FocusAreas:  []StatKey{},
		Stats:       stats,
		Stage:       StageFor(stats),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate проверяет инварианты пользователя.
func (u *User) Validate() error {
	if err := u.Stats.Validate(); err != nil {
		return err
	}
	if u.Streak < 0 {
		return shared.NewDomainError("progression", "ValidateUser", shared.ErrValueOutOfRange, "streak cannot be negative")
	}
	if u.Stage != StageFor(u.Stats) {
		return ErrInvariantViolation
	}
	return nil
}

// TotalScore возвращает сумму характеристик.
func (u *User) TotalScore() Score {
	return u.Stats.Total()
}

// ProgressPercent - доля суммы характеристик от максимума 60, в процентах.
func (u *User) ProgressPercent() int {
	return int(u.Stats.Total() * 100 / (NumStats * MaxScore))
}

// CompletedOn сообщает, засчитан ли у пользователя хоть один квест в день d.
func (u *User) CompletedOn(d timeutil.Date) bool {
	return !u.LastActive.IsZero() && u.LastActive == d
}

// ProgressUpdate - изменения пользователя, которые движок сохраняет одной транзакцией.
type ProgressUpdate struct {
	Stats      StatVector
	Stage      RankStage
	Streak     int
	LastActive timeutil.Date
}

// Apply переносит изменения в пользователя.
func (p ProgressUpdate) Apply(u *User) {
	u.Stats = p.Stats
	u.Stage = p.Stage
	u.Streak = p.Streak
	u.LastActive = p.LastActive
}

// ProfileUpdate - изменения профиля; nil означает "не менять".
type ProfileUpdate struct {
	DisplayName *string
	FocusAreas  []StatKey
}

// IsEmpty сообщает, что обновление ничего не меняет.
func (p ProfileUpdate) IsEmpty() bool {
	return p.DisplayName == nil && p.FocusAreas == nil
}

// NormalizeDisplayName обрезает пробелы и проверяет длину имени.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", ErrInvalidDisplayName
	}
	return name, nil
}

// ParseFocusAreas проверяет и нормализует список характеристик, удаляя повторы.
func ParseFocusAreas(raw []string) ([]StatKey, error) {
	out := make([]StatKey, 0, len(raw))
	seen := make(map[StatKey]bool, len(raw))
	for _, s := range raw {
		k, err := ParseStatKey(s)
		if err != nil {
			return nil, shared.WrapError("progression", "ParseFocusAreas", ErrInvalidFocusAreas, "invalid focus area", err)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}
