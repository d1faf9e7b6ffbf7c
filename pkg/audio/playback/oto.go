package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
)

// maxBufferedBytes bounds the oto output's pending PCM to two seconds at the
// transport rate. Anything beyond that is stale for a live conversation.
const maxBufferedBytes = 2 * audio.TargetSampleRate * audio.BytesPerSample

// OtoOutput is an [Output] backed by ebitengine/oto. The player pulls PCM
// from an internal bounded buffer via io.Reader; underruns render silence so
// the device clock keeps running between response turns.
type OtoOutput struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	buf    []byte
	closed bool
}

var _ Output = (*OtoOutput)(nil)

// NewOtoOutput creates an unopened oto-backed output.
func NewOtoOutput() *OtoOutput {
	return &OtoOutput{}
}

// Start implements [Output]. It initialises the oto context at the fixed
// transport format and starts a pull-based player.
func (o *OtoOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return nil
	}

	if o.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.TargetSampleRate,
			ChannelCount: audio.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   50 * time.Millisecond, // small device buffer for low latency
		})
		if err != nil {
			return fmt.Errorf("init oto context: %w", err)
		}
		<-ready
		o.ctx = ctx
	}

	o.closed = false
	o.player = o.ctx.NewPlayer(readerFunc(o.read))
	o.player.Play()
	return nil
}

// Write implements [Output], appending PCM16-encoded samples to the bounded
// buffer.
func (o *OtoOutput) Write(samples []float32) error {
	data := pcm.FloatToPCM16(samples)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil || o.closed {
		return fmt.Errorf("oto output not started")
	}
	if len(o.buf)+len(data) > maxBufferedBytes {
		return ErrBufferFull
	}
	o.buf = append(o.buf, data...)
	return nil
}

// read feeds the oto player. Silence on underrun. Consumed bytes are
// compacted out so the backing array never grows past the buffer bound.
func (o *OtoOutput) read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := copy(p, o.buf)
	rest := copy(o.buf, o.buf[n:])
	o.buf = o.buf[:rest]
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

// Close implements [Output]. The oto context itself cannot be torn down by
// the library, so Close stops the player and drops buffered audio.
func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.buf = nil
	if o.player != nil {
		err := o.player.Close()
		o.player = nil
		if err != nil {
			return fmt.Errorf("close oto player: %w", err)
		}
	}
	return nil
}

// readerFunc adapts a function to io.Reader for oto's pull API.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
