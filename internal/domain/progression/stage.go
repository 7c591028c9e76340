package progression

import (
	"fmt"
	"strings"

	"github.com/ascend-app/ascend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK STAGE
// ══════════════════════════════════════════════════════════════════════════════

// RankStage - ступень ранговой лестницы. Порядок значений совпадает с порядком лестницы.
type RankStage int

const (
	StageNovice RankStage = iota
	StageApprentice
	StageIntermediate
	StageAdvanced
	StageExpert
	StageMaster
)

var stageNames = [...]string{
	StageNovice:       "Novice",
	StageApprentice:   "Apprentice",
	StageIntermediate: "Intermediate",
	StageAdvanced:     "Advanced",
	StageExpert:       "Expert",
	StageMaster:       "Master",
}

// stageThresholds - минимальная сумма характеристик для ступени, от высшей к низшей.
var stageThresholds = []struct {
	min   Score
	stage RankStage
}{
	{58 * ScoreScale, StageMaster},
	{52 * ScoreScale, StageExpert},
	{42 * ScoreScale, StageAdvanced},
	{30 * ScoreScale, StageIntermediate},
	{18 * ScoreScale, StageApprentice},
}

// StageFor вычисляет ступень по сумме характеристик. Первое совпадение сверху выигрывает.
func StageFor(v StatVector) RankStage {
	total := v.Total()
	for _, t := range stageThresholds {
		if total >= t.min {
			return t.stage
		}
	}
	return StageNovice
}

// Threshold возвращает минимальную сумму характеристик для ступени.
func (s RankStage) Threshold() Score {
	for _, t := range stageThresholds {
		if t.stage == s {
			return t.min
		}
	}
	return 0
}

// Next возвращает следующую ступень и false, если s - высшая.
func (s RankStage) Next() (RankStage, bool) {
	if s >= StageMaster {
		return s, false
	}
	return s + 1, true
}

// Ordinal возвращает позицию на лестнице: Novice = 0 ... Master = 5.
func (s RankStage) Ordinal() int {
	return int(s)
}

// IsValid проверяет, что значение - известная ступень.
func (s RankStage) IsValid() bool {
	return s >= StageNovice && s <= StageMaster
}

// String возвращает имя ступени.
func (s RankStage) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("RankStage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage разбирает имя ступени без учёта регистра.
func ParseStage(name string) (RankStage, error) {
	for i, n := range stageNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return RankStage(i), nil
		}
	}
	return StageNovice, shared.WrapError("progression", "ParseStage", shared.ErrInvalidInput,
		"unknown rank stage", fmt.Errorf("%q", name))
}

// MarshalText кодирует ступень именем.
func (s RankStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText декодирует ступень из имени.
func (s *RankStage) UnmarshalText(b []byte) error {
	parsed, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
