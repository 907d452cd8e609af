package nav

// SelectRoute picks one candidate according to mode. Fastest takes the
// smallest duration and Safer the largest step count; in both cases the
// first candidate wins a tie. It returns nil only for an empty slice and
// never modifies candidates.
func SelectRoute(candidates []RouteCandidate, mode SafetyMode) *RouteCandidate {
	if len(candidates) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		c := &candidates[i]
		switch mode {
		case ModeSafer:
			if c.StepCount > candidates[best].StepCount {
				best = i
			}
		default:
			if c.DurationSeconds < candidates[best].DurationSeconds {
				best = i
			}
		}
	}

	chosen := candidates[best]
	return &chosen
}
