package audio

import "time"

// AudioFrame represents a single fixed-duration block of audio flowing through
// the pipeline. Frames are the atomic unit of audio transport: captured from
// the handset microphone, classified by VAD, streamed to STT, and played back
// through the handset speaker.
type AudioFrame struct {
	// Data is raw little-endian 16-bit PCM. Sample rate and channel count are
	// determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (16000 for the STT-optimised handset path).
	SampleRate int

	// Channels is 1 for the mono handset path.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame's samples, or zero when the
// frame carries no sample-rate information.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame's PCM bytes into int16 samples.
func (f AudioFrame) Samples() []int16 {
	out := make([]int16, len(f.Data)/2)
	for i := range out {
		out[i] = int16(f.Data[2*i]) | int16(f.Data[2*i+1])<<8
	}
	return out
}

// FramesPerSecond returns how many frames of frameMs duration fit in one
// second. Used to convert frame counts to wall-clock durations and back.
func FramesPerSecond(frameMs int) int {
	if frameMs <= 0 {
		return 0
	}
	return 1000 / frameMs
}

// FrameBytes returns the byte length of a mono PCM16 frame of frameMs
// duration at the given sample rate.
func FrameBytes(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000 * 2
}
