package audio

import "sync/atomic"

// StereoVolume is a software gain stage for backends without a hardware
// mixer. Levels are 0..100 per channel, applied to interleaved L,R frames.
type StereoVolume struct {
	left  atomic.Int32
	right atomic.Int32
	init  atomic.Bool
}

func (v *StereoVolume) ensure() {
	if v.init.CompareAndSwap(false, true) {
		v.left.Store(100)
		v.right.Store(100)
	}
}

func clampVolume(n int) int32 {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return int32(n)
}

// Volume returns the current left and right levels.
func (v *StereoVolume) Volume() (int, int) {
	v.ensure()
	return int(v.left.Load()), int(v.right.Load())
}

// SetVolume clamps and stores the levels, returning the values in effect.
func (v *StereoVolume) SetVolume(left, right int) (int, int) {
	v.ensure()
	v.left.Store(clampVolume(left))
	v.right.Store(clampVolume(right))
	return v.Volume()
}

// Apply scales interleaved stereo samples in place. At 100/100 it is a no-op.
func (v *StereoVolume) Apply(buf []int16) {
	v.ensure()
	l := int32(v.left.Load())
	r := int32(v.right.Load())
	if l == 100 && r == 100 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i] = int16(int32(buf[i]) * l / 100)
		buf[i+1] = int16(int32(buf[i+1]) * r / 100)
	}
	if len(buf)%2 == 1 {
		buf[len(buf)-1] = int16(int32(buf[len(buf)-1]) * l / 100)
	}
}
