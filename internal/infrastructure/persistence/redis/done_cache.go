package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/ascend-app/ascend/pkg/timeutil"
)

// DoneCache caches the ids of quests a user has credited on a day.
// It is filled on read and dropped when a completion commits. Each drop bumps
// a per-day version; a fill carries the version read before the store query
// and is discarded if a drop happened in between.
type DoneCache struct {
	cache *Cache
}

// NewDoneCache creates a new DoneCache.
func NewDoneCache(cache *Cache) *DoneCache {
	return &DoneCache{cache: cache}
}

func (d *DoneCache) key(userID int64, date timeutil.Date) string {
	return d.cache.Key("done", formatID(userID), date.String())
}

func (d *DoneCache) versionKey(userID int64, date timeutil.Date) string {
	return d.cache.Key("done", formatID(userID), date.String(), "v")
}

// DoneVersion returns the version a later SetDoneQuestIDs must match.
func (d *DoneCache) DoneVersion(ctx context.Context, userID int64, date timeutil.Date) (int64, error) {
	return d.cache.SetVersion(ctx, d.versionKey(userID, date))
}

// DoneQuestIDs returns the cached ids; ok is false on a miss.
func (d *DoneCache) DoneQuestIDs(ctx context.Context, userID int64, date timeutil.Date) ([]int64, bool, error) {
	members, ok, err := d.cache.SetMembers(ctx, d.key(userID, date))
	if err != nil || !ok {
		return nil, false, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("%w: done member %q", ErrCacheSerialization, m)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, true, nil
}

// SetDoneQuestIDs stores the ids for the day unless the cache was
// invalidated after version was read. Reports whether the ids were stored.
func (d *DoneCache) SetDoneQuestIDs(ctx context.Context, userID int64, date timeutil.Date, ids []int64, version int64) (bool, error) {
	members := make([]string, len(ids))
	for i, id := range ids {
		members[i] = formatID(id)
	}
	return d.cache.ReplaceSetAt(ctx, d.key(userID, date), d.versionKey(userID, date), version, members, TTLDoneSet)
}

// InvalidateDone drops the cached ids for the day.
func (d *DoneCache) InvalidateDone(ctx context.Context, userID int64, date timeutil.Date) error {
	return d.cache.DropSet(ctx, d.key(userID, date), d.versionKey(userID, date), TTLDoneSet)
}

// ReminderLedger records which users were reminded on a day, across workers.
type ReminderLedger struct {
	cache *Cache
}

// NewReminderLedger creates a new ReminderLedger.
func NewReminderLedger(cache *Cache) *ReminderLedger {
	return &ReminderLedger{cache: cache}
}

// MarkReminded reports true the first time it is called for (user, date).
func (l *ReminderLedger) MarkReminded(ctx context.Context, userID int64, date timeutil.Date) (bool, error) {
	return l.cache.SetNX(ctx, l.cache.Key("reminded", formatID(userID), date.String()), 1, TTLReminderMarker)
}
