package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono 16-bit audio between sample rates with a windowed
// sinc kernel, keeping filter state across calls so consecutive windows of
// one stream resample without boundary artefacts.
//
// Create one per audio stream; it is not safe for concurrent use. When source
// and target rates match it passes samples through untouched.
type Resampler struct {
	srcRate int
	dstRate int
	inner   resampling.Resampler
}

// NewResampler returns a Resampler from srcRate to dstRate Hz.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: sample rates %d -> %d must be positive", srcRate, dstRate)
	}

	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate == dstRate {
		return r, nil
	}

	inner, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	r.inner = inner
	return r, nil
}

// Process resamples one run of mono samples. The output length is roughly
// len(in) * dstRate / srcRate; callers that need an exact window size pad or
// truncate the result.
func (r *Resampler) Process(in []int16) ([]int16, error) {
	if r.inner == nil {
		out := make([]int16, len(in))
		copy(out, in)
		return out, nil
	}

	input := make([]float64, len(in))
	for i, s := range in {
		input[i] = float64(s) / 32768.0
	}

	output, err := r.inner.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	out := make([]int16, len(output))
	for i, v := range output {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		out[i] = int16(v * 32767.0)
	}
	return out, nil
}

// Ratio returns dstRate / srcRate as a float, handy for sizing buffers.
func (r *Resampler) Ratio() float64 {
	return float64(r.dstRate) / float64(r.srcRate)
}
