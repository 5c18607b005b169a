package circuit

import "sort"

// Ranking orders runners by lap, then distance, both descending. Ties keep
// join order.
func Ranking(c Circuit) []Runner {
	out := append([]Runner(nil), c.Runners...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Lap != out[j].Lap {
			return out[i].Lap > out[j].Lap
		}
		return out[i].DistanceM > out[j].DistanceM
	})
	return out
}

// Position is the 1-based rank of runnerID, or 0 when absent.
func Position(c Circuit, runnerID string) int {
	for i, r := range Ranking(c) {
		if r.ID == runnerID {
			return i + 1
		}
	}
	return 0
}

func sortByCreation(cs []Circuit) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID < cs[j].ID
		}
		return cs[i].CreatedAt.Before(cs[j].CreatedAt)
	})
}
