package series

import "time"

// MaskOutliers returns a copy of m where values above ceiling are absent.
func MaskOutliers(m *Matrix, ceiling float64) *Matrix {
	return m.Map(func(v float64) float64 {
		if v > ceiling {
			return Absent()
		}
		return v
	})
}

// YearOverYear returns, per location, the relative change between date and
// the same calendar day one year earlier. A location is absent when either
// value is absent or the earlier value is zero.
func YearOverYear(m *Matrix, date time.Time) map[string]float64 {
	prior := Day(date).AddDate(-1, 0, 0)

	out := make(map[string]float64, len(m.locations))
	for _, loc := range m.locations {
		current, ok := m.Get(date, loc)
		if !ok {
			current = Absent()
		}
		previous, ok := m.Get(prior, loc)
		if !ok {
			previous = Absent()
		}
		if IsAbsent(current) || IsAbsent(previous) || previous == 0 {
			out[loc] = Absent()
			continue
		}
		out[loc] = (current - previous) / previous
	}
	return out
}
