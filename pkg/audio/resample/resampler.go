// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Used by file capture to bring decoded audio to the stream rate
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
	lastFrame  []int16 // one sample per channel
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]int16, channels),
	}
}

// Resample converts interleaved input at inputRate into output at outputRate
// and returns the number of samples written. Output should have room for
// OutputSamplesNeeded(len(input)) plus one frame; input left over when output
// is full is dropped.
func (r *Resampler) Resample(input []int16, output []int16) int {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return 0
	}
	if !r.primed {
		copy(r.lastFrame, input[:r.channels])
		r.primed = true
	}

	// Frame 0 is the last frame of the previous call, frame i is input frame i-1
	at := func(frame, ch int) int16 {
		if frame == 0 {
			return r.lastFrame[ch]
		}
		return input[(frame-1)*r.channels+ch]
	}

	outputFrames := len(output) / r.channels
	outIdx := 0

	for outIdx < outputFrames {
		inputIdx := int(r.position)
		if inputIdx >= inputFrames {
			break
		}

		frac := r.position - float64(inputIdx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(at(inputIdx, ch))
			s2 := float64(at(inputIdx+1, ch))
			output[outIdx*r.channels+ch] = int16(s1*(1.0-frac) + s2*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	r.position -= float64(inputFrames)
	if r.position < 0 {
		r.position = 0
	}
	copy(r.lastFrame, input[(inputFrames-1)*r.channels:inputFrames*r.channels])

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	r.primed = false
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
