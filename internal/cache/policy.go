package cache

import (
	"strings"
	"time"
)

// PolicyRule binds a key prefix to placement and lifetime defaults.
type PolicyRule struct {
	Prefix   string
	TTL      time.Duration
	Level    string
	Priority int
}

// Policy resolves per-content defaults by longest matching key prefix.
// Callers construct one explicitly; there is no package-level instance.
type Policy struct {
	rules       []PolicyRule
	defaultTTL  time.Duration
	defaultLvl  string
	defaultPrio int
}

// NewPolicy orders rules by prefix length so the most specific rule wins.
func NewPolicy(rules []PolicyRule, defaultTTL time.Duration, defaultLevel string, defaultPriority int) *Policy {
	ordered := make([]PolicyRule, len(rules))
	copy(ordered, rules)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && len(ordered[j].Prefix) > len(ordered[j-1].Prefix); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return &Policy{
		rules:       ordered,
		defaultTTL:  defaultTTL,
		defaultLvl:  defaultLevel,
		defaultPrio: defaultPriority,
	}
}

func (p *Policy) match(key string) (PolicyRule, bool) {
	for _, rule := range p.rules {
		if strings.HasPrefix(key, rule.Prefix) {
			return rule, true
		}
	}
	return PolicyRule{}, false
}

// TTLFor returns the lifetime for a key.
func (p *Policy) TTLFor(key string) time.Duration {
	if rule, ok := p.match(key); ok && rule.TTL != 0 {
		return rule.TTL
	}
	return p.defaultTTL
}

// LevelFor returns the placement level name for a key.
func (p *Policy) LevelFor(key string) string {
	if rule, ok := p.match(key); ok && rule.Level != "" {
		return rule.Level
	}
	return p.defaultLvl
}

// PriorityFor returns the eviction priority for a key.
func (p *Policy) PriorityFor(key string) int {
	if rule, ok := p.match(key); ok && rule.Priority != 0 {
		return rule.Priority
	}
	return p.defaultPrio
}
