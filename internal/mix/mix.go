// Package mix merges the microphone and system-audio channels and
// downsamples them to the fixed transcription rate as 16-bit PCM.
package mix

// State holds the resampling parameters for one capture session. It must be
// rebuilt whenever the source device's native rate is discovered; the native
// rate is never assumed.
type State struct {
	MicGain    float64
	SystemGain float64
	SourceRate int
	TargetRate int
	Ratio      float64 // SourceRate / TargetRate
}

// NewState computes the resample ratio for a discovered source rate.
func NewState(sourceRate, targetRate int, micGain, systemGain float64) State {
	s := State{
		MicGain:    micGain,
		SystemGain: systemGain,
		SourceRate: sourceRate,
		TargetRate: targetRate,
	}
	if targetRate > 0 {
		s.Ratio = float64(sourceRate) / float64(targetRate)
	}
	return s
}

// Mix downmixes one fixed-size frame pair to mono, linearly interpolates it
// down to the target rate and quantizes to int16. system may be nil when no
// loopback source is available; the mic channel then passes through alone.
//
// Channels are averaged first, then interpolated: for output index i the
// source position is i*ratio, and the value is the linear blend of the floor
// and ceil neighbours by the fractional part.
func Mix(st State, mic, system []float32) []int16 {
	if len(mic) == 0 || st.Ratio <= 0 {
		return nil
	}

	mono := make([]float64, len(mic))
	for i := range mic {
		v := float64(mic[i]) * st.MicGain
		if system != nil {
			// A short system slice is zero-extended so the averaging gain
			// stays constant across the frame.
			var sv float64
			if i < len(system) {
				sv = float64(system[i]) * st.SystemGain
			}
			v = (v + sv) / 2
		}
		mono[i] = v
	}

	outLen := int(float64(len(mic)) / st.Ratio)
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * st.Ratio
		lo := int(pos)
		hi := lo + 1
		if hi >= len(mono) {
			hi = len(mono) - 1
		}
		frac := pos - float64(lo)
		v := mono[lo]*(1-frac) + mono[hi]*frac

		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		// int16 range is asymmetric: -32768..32767
		if v < 0 {
			out[i] = int16(v * 32768)
		} else {
			out[i] = int16(v * 32767)
		}
	}
	return out
}
