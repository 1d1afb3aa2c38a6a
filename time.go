package auth

import "time"

// IsWithinThresholdPeriodAt checks t against a threshold ending at now
func IsWithinThresholdPeriodAt(t, now time.Time, pattern string) (bool, error) {
	duration, err := time.ParseDuration(pattern)
	if err != nil {
		return false, err
	}

	threshold := now.Add(-duration)
	if t.After(threshold) {
		return true, nil
	}

	return false, nil
}

// IsOutsideThresholdPeriodAt is the negation of IsWithinThresholdPeriodAt
func IsOutsideThresholdPeriodAt(t, now time.Time, pattern string) (bool, error) {
	valid, err := IsWithinThresholdPeriodAt(t, now, pattern)
	if err != nil {
		return false, err
	}

	return !valid, nil
}
