package audio

import (
	"sync"

	"github.com/gen2brain/malgo"
)

// DeviceConfig describes the capture/playback format of the duplex device.
type DeviceConfig struct {
	SampleRate int
	Channels   int
}

type playbackClip struct {
	data []byte
	done func(ok bool)
}

// Device wraps a malgo full-duplex device. The capture side emits fixed-size
// PCM frames through OnFrame; the playback side plays one clip after another
// and reports completion asynchronously, which lets it serve as the
// pipeline's playback device.
type Device struct {
	mctx    *malgo.AllocatedContext
	dev     *malgo.Device
	onFrame func(frame []byte)

	mu      sync.Mutex
	clips   []playbackClip
	current *playbackClip
	offset  int
}

// NewDevice initializes the audio context and a duplex S16 device. onFrame is
// invoked from the device callback with a copy of each captured frame; it
// must not block.
func NewDevice(cfg DeviceConfig, onFrame func(frame []byte)) (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	d := &Device{mctx: mctx, onFrame: onFrame}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1 // Better compatibility on some systems

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, err
	}
	d.dev = dev

	return d, nil
}

func (d *Device) Start() error {
	return d.dev.Start()
}

func (d *Device) Close() {
	d.dev.Uninit()
	d.mctx.Uninit()
}

// Play enqueues one clip. done fires once the device has consumed the last
// byte, or with ok=false if the clip was discarded by Stop.
func (d *Device) Play(clip []byte, done func(ok bool)) error {
	d.mu.Lock()
	d.clips = append(d.clips, playbackClip{data: clip, done: done})
	d.mu.Unlock()
	return nil
}

// Stop discards the current clip and everything queued behind it.
func (d *Device) Stop() error {
	d.mu.Lock()
	dropped := d.clips
	cur := d.current
	d.clips = nil
	d.current = nil
	d.offset = 0
	d.mu.Unlock()

	if cur != nil && cur.done != nil {
		go cur.done(false)
	}
	for _, c := range dropped {
		if c.done != nil {
			go c.done(false)
		}
	}
	return nil
}

func (d *Device) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil && d.onFrame != nil {
		frame := make([]byte, len(pInput))
		copy(frame, pInput)
		d.onFrame(frame)
	}

	if pOutput == nil {
		return
	}

	d.mu.Lock()
	written := 0
	var finished []func(ok bool)
	for written < len(pOutput) {
		if d.current == nil {
			if len(d.clips) == 0 {
				break
			}
			next := d.clips[0]
			d.clips = d.clips[1:]
			d.current = &next
			d.offset = 0
		}
		n := copy(pOutput[written:], d.current.data[d.offset:])
		written += n
		d.offset += n
		if d.offset >= len(d.current.data) {
			if d.current.done != nil {
				finished = append(finished, d.current.done)
			}
			d.current = nil
			d.offset = 0
		}
	}
	d.mu.Unlock()

	// Fill the remainder with silence.
	for i := written; i < len(pOutput); i++ {
		pOutput[i] = 0
	}

	// Completion must not run on the device callback thread.
	for _, fn := range finished {
		go fn(true)
	}
}
