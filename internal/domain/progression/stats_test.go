package progression

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVector(r *rand.Rand) StatVector {
	var v StatVector
	for i := range v {
		v[i] = Score(r.IntN(int(MaxScore) + 1))
	}
	return v
}

func TestApplyReward_OnlyTargetStatChanges(t *testing.T) {
	v := DefaultStatVector()
	got := ApplyReward(v, StatPhysical, DefaultIncrement)

	assert.Equal(t, Score(60), got.Get(StatPhysical))
	for _, k := range AllStats {
		if k != StatPhysical {
			assert.Equal(t, DefaultScore, got.Get(k), k)
		}
	}
}

func TestApplyReward_ClampsAtTen(t *testing.T) {
	v := DefaultStatVector().With(StatMental, ScoreFromFloat(9.9))
	got := ApplyReward(v, StatMental, DefaultIncrement)

	assert.Equal(t, MaxScore, got.Get(StatMental))
	assert.Equal(t, "10.0", got.Get(StatMental).String())
}

func TestApplyReward_AlwaysWithinBounds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		v := randomVector(r)
		key := AllStats[r.IntN(NumStats)]
		inc := Score(r.IntN(int(MaxScore)))

		got := ApplyReward(v, key, inc)
		require.NoError(t, got.Validate())
		assert.GreaterOrEqual(t, got.Get(key), v.Get(key))
	}
}

func TestScoreFromFloat_NoDrift(t *testing.T) {
	v := DefaultStatVector()
	for i := 0; i < 100; i++ {
		v = ApplyReward(v, StatSocial, ScoreFromFloat(0.3))
	}
	assert.Equal(t, MaxScore, v.Get(StatSocial))
	assert.Equal(t, Score(30), ScoreFromFloat(0.3))
	assert.Equal(t, Score(990), ScoreFromFloat(9.9))
}

func TestStatVector_JSON(t *testing.T) {
	v := DefaultStatVector().With(StatFinancial, ScoreFromFloat(2.5))
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var raw map[string]float64
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, NumStats)
	assert.InDelta(t, 2.5, raw["financial"], 1e-9)
	assert.InDelta(t, 0.3, raw["appearance"], 1e-9)

	var back StatVector
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, v, back)
}

func TestStatVector_UnmarshalFillsMissingAndClamps(t *testing.T) {
	var v StatVector
	require.NoError(t, json.Unmarshal([]byte(`{"physical": 12.4, "mental": -1, "luck": 3}`), &v))

	assert.Equal(t, MaxScore, v.Get(StatPhysical))
	assert.Equal(t, MinScore, v.Get(StatMental))
	assert.Equal(t, DefaultScore, v.Get(StatSocial))
}

func TestParseStatKey(t *testing.T) {
	k, err := ParseStatKey(" Physical ")
	require.NoError(t, err)
	assert.Equal(t, StatPhysical, k)

	_, err = ParseStatKey("luck")
	assert.ErrorContains(t, err, "invalid stat key")
}
