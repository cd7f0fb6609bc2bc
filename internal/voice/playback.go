package voice

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/pkg/audio"
	"github.com/MrWong99/mirepoix/pkg/provider/tts"
	"github.com/MrWong99/mirepoix/pkg/types"
)

// PlayerConfig configures a [Player].
type PlayerConfig struct {
	// Target is the speaker's UDP address, e.g. "192.168.0.40:12345".
	// Ignored when Conn is set.
	Target string

	// Conn, when set, is adopted instead of dialing Target.
	Conn *net.UDPConn

	// TTS synthesises replies. Required.
	TTS tts.Provider

	// Voice is the profile passed to the TTS provider.
	Voice types.VoiceProfile

	// SampleRate is the PCM rate the provider emits and the wire rate
	// the speaker expects. Defaults to [DefaultSourceSampleRate].
	SampleRate int

	// PacketBytes is the fixed datagram size for speaker audio.
	// Defaults to [DefaultPacketBytes].
	PacketBytes int

	// PacingFactor scales the inter-packet delay relative to real time.
	// Slightly below 1.0 keeps the device buffer fed without flooding
	// it. Defaults to [DefaultPacingFactor].
	PacingFactor float64

	// Muted, when non-nil and true, makes Speak a silent no-op.
	Muted func() bool

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Player streams synthesised speech to the speaker as paced fixed-size
// UDP packets. A single mutex serializes whole utterances: concurrent
// turns take their turn on the wire rather than interleaving packets.
type Player struct {
	mu     sync.Mutex
	conn   *net.UDPConn
	tts    tts.Provider
	voice  types.VoiceProfile
	rate   int
	packet int
	pacing float64
	muted  func() bool
	logger *slog.Logger
	meter  *observe.Metrics
}

var _ Speaker = (*Player)(nil)

// NewPlayer validates cfg, dials the speaker, and returns a Player.
func NewPlayer(cfg PlayerConfig) (*Player, error) {
	if cfg.TTS == nil {
		return nil, fmt.Errorf("voice: player requires a tts provider")
	}

	conn := cfg.Conn
	if conn == nil {
		addr, err := net.ResolveUDPAddr("udp", cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("voice: resolve speaker %s: %w", cfg.Target, err)
		}
		conn, err = net.DialUDP("udp", nil, addr)
		if err != nil {
			return nil, fmt.Errorf("voice: dial speaker %s: %w", cfg.Target, err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = DefaultSourceSampleRate
	}
	packet := cfg.PacketBytes
	if packet <= 0 {
		packet = DefaultPacketBytes
	}
	pacing := cfg.PacingFactor
	if pacing <= 0 {
		pacing = DefaultPacingFactor
	}

	return &Player{
		conn:   conn,
		tts:    cfg.TTS,
		voice:  cfg.Voice,
		rate:   rate,
		packet: packet,
		pacing: pacing,
		muted:  cfg.Muted,
		logger: logger.With("component", "player"),
		meter:  meter,
	}, nil
}

// Speak synthesises text and streams it to the speaker, blocking until
// the last packet is on the wire. Muted skips everything, including the
// synthesis call.
func (p *Player) Speak(ctx context.Context, text string) error {
	if p.muted != nil && p.muted() {
		p.logger.Debug("playback skipped while muted")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	pcmCh, err := p.tts.SynthesizeStream(ctx, textCh, p.voice)
	if err != nil {
		return fmt.Errorf("voice: start synthesis: %w", err)
	}

	// The provider emits mono; the speaker DAC wants interleaved
	// stereo. Four bytes per frame after conversion.
	packetFrames := p.packet / 4
	pace := time.Duration(float64(packetFrames) / float64(p.rate) *
		p.pacing * float64(time.Second))

	sendPacket := func(packet []byte) error {
		if _, err := p.conn.Write(packet); err != nil {
			return fmt.Errorf("voice: speaker send: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pace):
		}
		return nil
	}

	var (
		pending []byte
		sent    int
	)
	for chunk := range pcmCh {
		pending = append(pending, audio.MonoToStereo(chunk)...)
		off := 0
		for len(pending)-off >= p.packet {
			if err := sendPacket(pending[off : off+p.packet]); err != nil {
				go audio.Drain(pcmCh)
				return err
			}
			sent += p.packet
			off += p.packet
		}
		if off > 0 {
			rem := copy(pending, pending[off:])
			pending = pending[:rem]
		}
	}
	if len(pending) > 0 {
		if err := sendPacket(pending); err != nil {
			return err
		}
		sent += len(pending)
	}

	seconds := float64(sent) / float64(4*p.rate)
	p.meter.PlaybackSeconds.Add(ctx, seconds)
	p.logger.Info("playback complete", "seconds", seconds, "bytes", sent)
	return nil
}

// Close releases the speaker socket.
func (p *Player) Close() error {
	return p.conn.Close()
}
