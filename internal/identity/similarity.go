package identity

import "math"

// CosineSimilarity berechnet dot(a,b) / (|a|*|b|), begrenzt auf [0, 1].
// Negative Korrelation zählt als 0, ebenso Nullvektoren und ungleiche Längen.
// Akkumuliert wird in float64; sqrt(|a|²·|b|²) liefert für a == b exakt |a|², der Score ist dann genau 1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return clamp01(dot / math.Sqrt(normA*normB))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
