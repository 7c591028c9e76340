package progression

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ascend-app/ascend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STAT KEYS
// ══════════════════════════════════════════════════════════════════════════════

// StatKey - одна из шести фиксированных характеристик пользователя.
type StatKey string

const (
	StatAppearance StatKey = "appearance"
	StatDiscipline StatKey = "discipline"
	StatSocial     StatKey = "social"
	StatMental     StatKey = "mental"
	StatPhysical   StatKey = "physical"
	StatFinancial  StatKey = "financial"
)

// NumStats - количество характеристик.
const NumStats = 6

// AllStats перечисляет характеристики в каноническом порядке.
var AllStats = [NumStats]StatKey{
	StatAppearance,
	StatDiscipline,
	StatSocial,
	StatMental,
	StatPhysical,
	StatFinancial,
}

func (k StatKey) index() int {
	for i, key := range AllStats {
		if key == k {
			return i
		}
	}
	return -1
}

// IsValid проверяет, что ключ входит в фиксированный набор.
func (k StatKey) IsValid() bool {
	return k.index() >= 0
}

// String возвращает строковое представление ключа.
func (k StatKey) String() string {
	return string(k)
}

// ParseStatKey разбирает ключ без учёта регистра.
func ParseStatKey(s string) (StatKey, error) {
	k := StatKey(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", shared.WrapError("progression", "ParseStatKey", shared.ErrInvalidInput,
			"invalid stat key", fmt.Errorf("%q", s))
	}
	return k, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCORE
// ══════════════════════════════════════════════════════════════════════════════

// Score - значение характеристики в сотых долях очка.
// Диапазон [0, 10] хранится как [0, 1000], поэтому сложение и сравнение
// с порогами рангов точные.
type Score int

const (
	// ScoreScale - число единиц Score в одном очке.
	ScoreScale = 100
	// MinScore - нижняя граница характеристики (0.0).
	MinScore Score = 0
	// MaxScore - верхняя граница характеристики (10.0).
	MaxScore Score = 10 * ScoreScale
	// DefaultScore - начальное значение каждой характеристики (0.3).
	DefaultScore Score = 30
	// DefaultIncrement - прирост характеристики за один засчитанный квест (0.3).
	DefaultIncrement Score = 30
)

// ScoreFromFloat переводит очки в Score с округлением до сотых.
func ScoreFromFloat(f float64) Score {
	return Score(math.Round(f * ScoreScale))
}

// Float64 возвращает значение в очках.
func (s Score) Float64() float64 {
	return float64(s) / ScoreScale
}

// String форматирует значение с одним знаком после запятой, например "9.9".
func (s Score) String() string {
	return strconv.FormatFloat(s.Float64(), 'f', 1, 64)
}

// Clamp ограничивает значение диапазоном [MinScore, MaxScore].
func Clamp(s Score) Score {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// STAT VECTOR
// ══════════════════════════════════════════════════════════════════════════════

// StatVector - значения всех шести характеристик.
// Фиксированный массив гарантирует, что каждый ключ присутствует.
type StatVector [NumStats]Score

// DefaultStatVector возвращает вектор нового пользователя (все 0.3).
func DefaultStatVector() StatVector {
	var v StatVector
	for i := range v {
		v[i] = DefaultScore
	}
	return v
}

// UniformStatVector возвращает вектор, где все характеристики равны s (с ограничением).
func UniformStatVector(s Score) StatVector {
	var v StatVector
	for i := range v {
		v[i] = Clamp(s)
	}
	return v
}

// Get возвращает значение характеристики. Для неизвестного ключа - 0.
func (v StatVector) Get(k StatKey) Score {
	i := k.index()
	if i < 0 {
		return 0
	}
	return v[i]
}

// With возвращает копию вектора с новым значением характеристики (с ограничением).
func (v StatVector) With(k StatKey, s Score) StatVector {
	if i := k.index(); i >= 0 {
		v[i] = Clamp(s)
	}
	return v
}

// Total возвращает сумму всех характеристик, диапазон [0, 60].
func (v StatVector) Total() Score {
	var total Score
	for _, s := range v {
		total += s
	}
	return total
}

// Validate проверяет, что все значения в диапазоне [0, 10].
func (v StatVector) Validate() error {
	for i, s := range v {
		if s < MinScore || s > MaxScore {
			return shared.WrapError("progression", "ValidateStats", shared.ErrValueOutOfRange,
				"stat out of range", fmt.Errorf("%s=%s", AllStats[i], s))
		}
	}
	return nil
}

// Map возвращает значения в очках, ключ - имя характеристики.
func (v StatVector) Map() map[StatKey]float64 {
	m := make(map[StatKey]float64, NumStats)
	for i, k := range AllStats {
		m[k] = v[i].Float64()
	}
	return m
}

// MarshalJSON кодирует вектор как объект {"appearance": 0.3, ...}.
func (v StatVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON декодирует объект характеристик. Отсутствующие ключи получают
// значение по умолчанию, значения вне диапазона ограничиваются, неизвестные ключи игнорируются.
func (v *StatVector) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("progression: decode stats: %w", err)
	}
	out := DefaultStatVector()
	for i, k := range AllStats {
		if f, ok := raw[string(k)]; ok {
			out[i] = Clamp(ScoreFromFloat(f))
		}
	}
	*v = out
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STAT UPDATE POLICY
// ══════════════════════════════════════════════════════════════════════════════

// ApplyReward прибавляет increment к характеристике key и ограничивает результат
// диапазоном [0, 10]. Остальные характеристики не меняются.
// Прирост фиксирован и не зависит от XP квеста.
func ApplyReward(v StatVector, key StatKey, increment Score) StatVector {
	return v.With(key, v.Get(key)+increment)
}
