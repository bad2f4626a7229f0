package scoring

import (
	"math"
	"time"

	"scout/internal/core"
)

// Source weight bounds enforced before multiplication.
const (
	minSourceWeight = 0.1
	maxSourceWeight = 3.0

	// engagementScale is the raw engagement value that maps to 0.5 after
	// saturation.
	engagementScale = 20.0

	// Heuristic blend between recency and engagement.
	heuristicRecencyShare    = 0.7
	heuristicEngagementShare = 0.3
)

// Bounds for the user preference multiplier.
const (
	minPrefWeight = 0.5
	maxPrefWeight = 1.5
)

// Recency01 is the age-decayed recency signal: 1 at zero age, halving every
// halfLifeHours. Negative ages (clock skew) count as zero age.
func Recency01(age time.Duration, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		return 1
	}
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Pow(0.5, hours/halfLifeHours)
}

// Engagement01 saturates a raw popularity count into 0-1. Zero or unknown
// engagement maps to zero.
func Engagement01(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (raw + engagementScale)
}

// Heuristic blends recency and engagement into one signal.
func Heuristic(recency01, engagement01 float64) float64 {
	return heuristicRecencyShare*recency01 + heuristicEngagementShare*engagement01
}

// Novelty01 is one minus the maximum similarity to recently seen candidate
// embeddings. With no history, or no embedding, everything is fully novel.
func Novelty01(embedding []float64, recent [][]float64) float64 {
	if len(embedding) == 0 || len(recent) == 0 {
		return 1
	}
	var maxSim float64
	for _, r := range recent {
		if sim := cosine(embedding, r); sim > maxSim {
			maxSim = sim
		}
	}
	if maxSim > 1 {
		maxSim = 1
	}
	return 1 - maxSim
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// UserPreferenceWeight scales the whole score by how much the preference
// signal can be trusted. Confidence grows with feedback history count n as
// 1-exp(-n/k); the multiplier shifts away from neutral in proportion to
// confidence and how far the preference similarity sits from indifference,
// clamped to [0.5, 1.5]. Thin history keeps the multiplier near 1.
func UserPreferenceWeight(sampleCount int, preferenceScore, k, gain float64) float64 {
	if sampleCount <= 0 || k <= 0 {
		return 1
	}
	confidence := 1 - math.Exp(-float64(sampleCount)/k)
	w := 1 + gain*confidence*(preferenceScore-0.5)
	return clamp(w, minPrefWeight, maxPrefWeight)
}

// DecayMultiplier halves the score every decayHours of candidate age.
func DecayMultiplier(age time.Duration, decayHours float64) float64 {
	if decayHours <= 0 {
		return 1
	}
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Pow(0.5, hours/decayHours)
}

// ClampSourceWeight forces an operator-configured source weight into its
// documented 0.1-3.0 range.
func ClampSourceWeight(w float64) float64 {
	return clamp(w, minSourceWeight, maxSourceWeight)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Compose derives the full score breakdown from inputs, weights and
// multipliers. Every intermediate lands in the record so the final score is
// re-derivable bit-for-bit from the stored fields alone.
func Compose(inputs core.ScoreInputs, weights core.ScoreWeights, multipliers core.ScoreMultipliers) core.ScoreDebugRecord {
	components := core.WeightedComponents{
		AI:        weights.AI * inputs.AIScore,
		Heuristic: weights.Heuristic * inputs.HeuristicScore,
		Pref:      weights.Pref * inputs.PreferenceScore,
		Novelty:   weights.Novelty * inputs.Novelty01,
		Signal:    weights.Signal * inputs.Signal01,
	}
	baseScore := components.AI + components.Heuristic + components.Pref + components.Novelty
	preWeight := baseScore + components.Signal

	final := preWeight * multipliers.SourceWeight * multipliers.UserPreferenceWeight * multipliers.DecayMultiplier
	if final < 0 {
		final = 0
	}

	return core.ScoreDebugRecord{
		Inputs:         inputs,
		Weights:        weights,
		Components:     components,
		BaseScore:      baseScore,
		PreWeightScore: preWeight,
		Multipliers:    multipliers,
		FinalScore:     final,
	}
}

// Rederive recomputes the final score from a stored record's own fields,
// for audit verification.
func Rederive(r core.ScoreDebugRecord) float64 {
	final := r.PreWeightScore * r.Multipliers.SourceWeight * r.Multipliers.UserPreferenceWeight * r.Multipliers.DecayMultiplier
	if final < 0 {
		final = 0
	}
	return final
}
