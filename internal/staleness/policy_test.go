package staleness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeek(t *testing.T) {
	w, err := ParseWeek(2)
	require.NoError(t, err)
	assert.Equal(t, Week2, w)

	_, err = ParseWeek(3)
	assert.ErrorIs(t, err, ErrInvalidWeek)
	_, err = ParseWeek(0)
	assert.ErrorIs(t, err, ErrInvalidWeek)
}

func TestFlag_WeekNeverCrossesSprintHalf(t *testing.T) {
	for _, k := range []StageKind{KindDev, KindQA} {
		for days := 0; days <= 30; days++ {
			for sprintDays := 0; sprintDays <= 30; sprintDays++ {
				if Flag(k, Week1, days, sprintDays) {
					require.LessOrEqual(t, sprintDays, 7, "%s week1 days=%d", k, days)
					require.Equal(t, 4, days)
				}
				if Flag(k, Week2, days, sprintDays) {
					require.Greater(t, sprintDays, 7, "%s week2 days=%d", k, days)
					require.Greater(t, days, 3)
				}
			}
		}
	}
}

func TestFlag_ReadyDevIgnoresWeek(t *testing.T) {
	for _, w := range []Week{Week1, Week2} {
		assert.False(t, Flag(KindReadyDev, w, 6, 0))
		assert.True(t, Flag(KindReadyDev, w, 7, 0))
		assert.True(t, Flag(KindReadyDev, w, 12, 14))
	}
}

func TestFlag_Examples(t *testing.T) {
	assert.True(t, Flag(KindDev, Week1, 4, 7))
	assert.False(t, Flag(KindDev, Week1, 5, 3))
	assert.False(t, Flag(KindDev, Week1, 4, 8))
	assert.True(t, Flag(KindQA, Week2, 4, 8))
	assert.False(t, Flag(KindQA, Week2, 3, 10))
	assert.False(t, Flag(KindDev, Week2, 3, 8))
	assert.True(t, Flag(KindDev, Week2, 4, 9))
	assert.False(t, Flag(KindQA, Week2, 9, 7))
}

func TestStageKind_Matches(t *testing.T) {
	assert.True(t, KindReadyDev.Matches("ready for dev"))
	assert.True(t, KindDev.Matches("ENV: DEV"))
	assert.False(t, KindQA.Matches("ENV: DEV"))
	assert.False(t, StageKind("other").Matches(""))
}
