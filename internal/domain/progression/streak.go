package progression

import "github.com/ascend-app/ascend/pkg/timeutil"

// NextStreak вычисляет серию дней после засчитанного выполнения в день today.
//
// Правила в порядке приоритета:
//   - последний активный день - вчера: current + 1;
//   - последний активный день - сегодня: current без изменений;
//   - иначе (пропуск от двух дней или пользователь ни разу не был активен): 1.
func NextStreak(lastActive, today timeutil.Date, current int) int {
	switch {
	case !lastActive.IsZero() && lastActive == today.AddDays(-1):
		return current + 1
	case !lastActive.IsZero() && lastActive == today:
		return current
	default:
		return 1
	}
}

// StreakBroken сообщает, что выполнение в день today сбросит серию длиннее одного дня.
func StreakBroken(lastActive, today timeutil.Date, current int) bool {
	return current > 1 && NextStreak(lastActive, today, current) == 1
}

// StreakAtRisk сообщает, что пользователь был активен вчера, но ещё не сегодня.
// Такой серии напоминают о квестах до конца дня.
func StreakAtRisk(lastActive, today timeutil.Date) bool {
	return !lastActive.IsZero() && lastActive == today.AddDays(-1)
}
