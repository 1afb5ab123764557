package domain

import "time"

// Strength returns the decayed strength of m at t:
//
//	clamp(baseStrength - decayRate*hoursSince(createdAt, t), 0, 1)
//
// forced to 0 once t is past expiresAt. Times before createdAt count as zero
// elapsed hours, so the result is non-increasing in t.
func Strength(m *Memory, t time.Time) float64 {
	return StrengthAt(m.BaseStrength, m.DecayRate, m.CreatedAt, m.ExpiresAt, t)
}

func StrengthAt(base, decayRate float64, createdAt time.Time, expiresAt *time.Time, t time.Time) float64 {
	if expiresAt != nil && t.After(*expiresAt) {
		return 0
	}
	hours := t.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}
	if decayRate < 0 {
		decayRate = 0
	}
	return clamp01(base - decayRate*hours)
}

// Expired reports whether m has a hard cutoff that t has passed.
func Expired(m *Memory, t time.Time) bool {
	return m.ExpiresAt != nil && t.After(*m.ExpiresAt)
}

// ZeroStrengthAt returns the moment decay alone brings m to zero, or nil when
// it never does.
func ZeroStrengthAt(m *Memory) *time.Time {
	if m.DecayRate <= 0 {
		return nil
	}
	hours := clamp01(m.BaseStrength) / m.DecayRate
	t := m.CreatedAt.Add(time.Duration(hours * float64(time.Hour)))
	return &t
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
