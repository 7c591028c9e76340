// Package progression содержит доменную модель прогрессии ASCEND:
// шесть характеристик пользователя, ранговую лестницу, серию дней (streak)
// и контракт хранилища, через который движок засчитывает выполнение квеста.
//
// Все функции политики (ApplyReward, StageFor, NextStreak) чистые и тотальные.
// Единственная точка отказа - транзакция хранилища (Store.InTx).
package progression
