package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_LongestPrefixWins(t *testing.T) {
	t.Parallel()

	policy := NewPolicy([]PolicyRule{
		{Prefix: "api:", TTL: time.Hour, Level: "l2", Priority: 5},
		{Prefix: "api:search:", TTL: 10 * time.Minute, Level: "l1", Priority: 8},
	}, time.Minute, "l1", 1)

	assert.Equal(t, 10*time.Minute, policy.TTLFor("api:search:radiohead"))
	assert.Equal(t, time.Hour, policy.TTLFor("api:lookup:radiohead"))
	assert.Equal(t, "l1", policy.LevelFor("api:search:x"))
	assert.Equal(t, "l2", policy.LevelFor("api:other"))
	assert.Equal(t, 8, policy.PriorityFor("api:search:x"))
}

func TestPolicy_DefaultsApplyWithoutMatch(t *testing.T) {
	t.Parallel()

	policy := NewPolicy([]PolicyRule{
		{Prefix: "album:", TTL: time.Hour},
	}, time.Minute, "l1", 3)

	assert.Equal(t, time.Minute, policy.TTLFor("unrelated"))
	assert.Equal(t, "l1", policy.LevelFor("unrelated"))
	assert.Equal(t, 3, policy.PriorityFor("unrelated"))
}

func TestPolicy_PartialRulesFallBackPerField(t *testing.T) {
	t.Parallel()

	// A rule that only sets TTL leaves level and priority at the defaults.
	policy := NewPolicy([]PolicyRule{
		{Prefix: "album:", TTL: time.Hour},
	}, time.Minute, "l1", 3)

	assert.Equal(t, time.Hour, policy.TTLFor("album:x"))
	assert.Equal(t, "l1", policy.LevelFor("album:x"))
	assert.Equal(t, 3, policy.PriorityFor("album:x"))
}
