package targets

import (
	"math/rand"
	"sort"
)

// positiveIoUThreshold is the IoU against ground truth above which a proposal
// counts as a foreground match.
const positiveIoUThreshold = 0.5

// SelectSamples partitions proposals into positive and negative index sets at
// the configured ratio.
//
// Positives are proposals whose best ground-truth IoU reaches 0.5; negatives
// fall below 0.5 and are not crowd-covered. The desired positive count is
// roisPerImage*positiveRatio; the negative budget is recomputed from the
// realized positive count so the ratio holds even when positives run short.
// When no positives exist, no negatives are sampled either: the sample
// contributes zero ROIs rather than an all-negative set.
//
// With hard-negative mining, over-capacity positive candidates keep the
// highest background-class probabilities (proposals the classifier wrongly
// favours as background) and negative candidates keep the lowest. Without
// mining, selection is uniform via the supplied generator, which must be
// seeded explicitly for reproducible runs.
//
// Arguments:
//   - rng: Randomness source for uniform selection. Unused when mining.
//   - maxIoU: Per-proposal best IoU against real ground truth.
//   - noCrowd: Per-proposal negative-pool eligibility from FilterCrowds.
//   - bgProb: Per-proposal background-class probability; required only when
//     mining.
//   - roisPerImage: Per-image cap on sampled ROIs.
//   - positiveRatio: Target fraction of positives.
//   - mining: Enables hard-negative mining.
//
// Returns:
//   - Disjoint positive and negative index sets into the proposal sequence.
func SelectSamples(rng *rand.Rand, maxIoU []float32, noCrowd []bool, bgProb []float32, roisPerImage int, positiveRatio float32, mining bool) (positive, negative []int) {
	var posCand, negCand []int
	for i, iou := range maxIoU {
		if iou >= positiveIoUThreshold {
			posCand = append(posCand, i)
		} else if noCrowd[i] {
			negCand = append(negCand, i)
		}
	}

	wantPos := int(float32(roisPerImage) * positiveRatio)
	if mining {
		positive = topKByScore(posCand, bgProb, wantPos, true)
	} else {
		positive = sampleUniform(rng, posCand, wantPos)
	}

	if len(positive) == 0 {
		return nil, nil
	}

	wantNeg := int(float32(len(positive))/positiveRatio) - len(positive)
	if mining {
		negative = topKByScore(negCand, bgProb, wantNeg, false)
	} else {
		negative = sampleUniform(rng, negCand, wantNeg)
	}
	return positive, negative
}

// sampleUniform draws up to k candidates without replacement.
func sampleUniform(rng *rand.Rand, cand []int, k int) []int {
	if len(cand) == 0 || k <= 0 {
		return nil
	}
	perm := rng.Perm(len(cand))
	if k > len(cand) {
		k = len(cand)
	}
	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = cand[perm[i]]
	}
	return out
}

// topKByScore keeps the k candidates with the highest (or lowest) scores.
// When the candidate set fits within k it is returned unchanged.
func topKByScore(cand []int, score []float32, k int, highest bool) []int {
	if len(cand) == 0 || k <= 0 {
		return nil
	}
	if len(cand) <= k {
		return cand
	}
	ranked := make([]int, len(cand))
	copy(ranked, cand)
	sort.SliceStable(ranked, func(a, b int) bool {
		if highest {
			return score[ranked[a]] > score[ranked[b]]
		}
		return score[ranked[a]] < score[ranked[b]]
	})
	return ranked[:k]
}
