package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/MrWong99/mirepoix/internal/observe"
	"github.com/MrWong99/mirepoix/pkg/audio"
	"github.com/MrWong99/mirepoix/pkg/provider/vad"
)

// readTimeout bounds mic reads so the loop notices ctx cancellation.
const readTimeout = time.Second

// SegmenterConfig configures a [Segmenter].
type SegmenterConfig struct {
	// Addr is the UDP listen address for microphone audio, e.g.
	// ":12345". Ignored when Conn is set.
	Addr string

	// Conn, when set, is adopted instead of binding Addr. Run closes
	// it.
	Conn *net.UDPConn

	// Session receives speech transitions and complete utterances.
	// Required.
	Session *Session

	// Gate keeps the segmenter inert until the experience starts.
	// Required.
	Gate Gate

	// Engine scores analysis windows. Required.
	Engine vad.Engine

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SourceSampleRate is the capture rate of incoming packets.
	// Defaults to [DefaultSourceSampleRate].
	SourceSampleRate int

	// Threshold, MinSilence and SpeechPad tune the hysteresis detector.
	// Zero values take the detector defaults.
	Threshold  float64
	MinSilence time.Duration
	SpeechPad  time.Duration
}

// Segmenter owns the microphone ingest loop: buffer datagrams into
// analysis windows, resample each window to the analysis rate, score it,
// and drive the hysteresis detector. While the detector reports speech
// the ORIGINAL capture-rate bytes accumulate, so the STT backend gets
// the full-fidelity recording, not the downsampled analysis copy.
type Segmenter struct {
	addr    string
	conn    *net.UDPConn
	session *Session
	gate    Gate
	engine  vad.Engine
	logger  *slog.Logger
	meter   *observe.Metrics

	srcRate int
	detCfg  vad.DetectorConfig
}

// NewSegmenter validates cfg and returns a segmenter ready to Run.
func NewSegmenter(cfg SegmenterConfig) (*Segmenter, error) {
	switch {
	case cfg.Session == nil:
		return nil, fmt.Errorf("voice: segmenter requires a session")
	case cfg.Gate == nil:
		return nil, fmt.Errorf("voice: segmenter requires a gate")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("voice: segmenter requires a vad engine")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meter := cfg.Metrics
	if meter == nil {
		meter = observe.DefaultMetrics()
	}
	srcRate := cfg.SourceSampleRate
	if srcRate <= 0 {
		srcRate = DefaultSourceSampleRate
	}

	return &Segmenter{
		addr:    cfg.Addr,
		conn:    cfg.Conn,
		session: cfg.Session,
		gate:    cfg.Gate,
		engine:  cfg.Engine,
		logger:  logger.With("component", "segmenter"),
		meter:   meter,
		srcRate: srcRate,
		detCfg: vad.DetectorConfig{
			SampleRate:    analysisSampleRate,
			WindowSamples: analysisWindow,
			Threshold:     cfg.Threshold,
			MinSilence:    cfg.MinSilence,
			SpeechPad:     cfg.SpeechPad,
		},
	}, nil
}

// Run receives microphone packets until ctx is cancelled. Per packet,
// in order: drop until the gate opens; feed an engaged manual
// recording; skip analysis during cooldown or while muted; otherwise
// buffer and analyse full windows.
func (g *Segmenter) Run(ctx context.Context) error {
	conn := g.conn
	if conn == nil {
		var lc net.ListenConfig
		pc, err := lc.ListenPacket(ctx, "udp", g.addr)
		if err != nil {
			return fmt.Errorf("voice: listen mic on %s: %w", g.addr, err)
		}
		conn = pc.(*net.UDPConn)
	}
	defer conn.Close()

	vadSession, err := g.engine.NewSession(vad.Config{
		SampleRate:    analysisSampleRate,
		WindowSamples: analysisWindow,
	})
	if err != nil {
		return fmt.Errorf("voice: create vad session: %w", err)
	}
	defer vadSession.Close()

	detector, err := vad.NewDetector(g.detCfg)
	if err != nil {
		return fmt.Errorf("voice: create detector: %w", err)
	}

	resampler, err := audio.NewResampler(g.srcRate, analysisSampleRate)
	if err != nil {
		return fmt.Errorf("voice: create resampler: %w", err)
	}

	// One analysis window expressed in capture-rate bytes.
	windowBytes := analysisWindow * g.srcRate / analysisSampleRate * 2

	g.logger.Info("listening for microphone audio",
		"addr", conn.LocalAddr(),
		"source_rate", g.srcRate,
		"window_bytes", windowBytes)

	var (
		packetBuf []byte
		utterance []byte
		recording bool
		windows   int
	)
	buf := make([]byte, 64<<10)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("voice: set read deadline: %w", err)
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("voice: mic read: %w", err)
		}
		data := buf[:n]

		if !g.gate.Started() {
			continue
		}

		// Manual recordings capture everything, even during cooldown
		// or while muted.
		g.session.AppendManual(data)

		if g.session.CoolingDown() {
			continue
		}
		if g.session.Muted() {
			continue
		}

		packetBuf = append(packetBuf, data...)

		off := 0
		for len(packetBuf)-off >= windowBytes {
			window := packetBuf[off : off+windowBytes]
			off += windowBytes

			samples := audio.PCMToSamples(window)
			resampled, err := resampler.Process(samples)
			if err != nil {
				g.logger.Warn("resample failed", "err", err)
				continue
			}

			prob, err := vadSession.Probability(fitWindow(resampled))
			if err != nil {
				g.logger.Warn("vad scoring failed", "err", err)
				continue
			}

			windows++
			g.meter.VADWindows.Add(ctx, 1)
			if windows%logEveryWindows == 0 {
				g.logger.Debug("audio window", "count", windows, "speech_prob", prob)
			}

			ev := detector.Feed(prob)

			// Append with the flag as it stood when the window arrived,
			// so the triggering window is buffered exactly once below.
			if recording {
				utterance = append(utterance, window...)
			}

			switch ev.Type {
			case vad.VADSpeechStart:
				if !recording {
					recording = true
					utterance = append(utterance[:0], window...)
					g.logger.Info("speech detected", "speech_prob", prob)
					g.meter.RecordVADEvent(ctx, "start")
					g.session.OnSpeechStart()
				}
			case vad.VADSpeechEnd:
				if recording {
					recording = false
					handoff := make([]byte, len(utterance))
					copy(handoff, utterance)
					utterance = utterance[:0]
					g.logger.Info("speech ended",
						"bytes", len(handoff),
						"seconds", float64(len(handoff))/float64(2*g.srcRate))
					g.meter.RecordVADEvent(ctx, "end")
					g.session.HandleUtterance(ctx, handoff, SourceVAD)
				}
			}
		}

		if off > 0 {
			rem := copy(packetBuf, packetBuf[off:])
			packetBuf = packetBuf[:rem]
		}
	}
}

// fitWindow pads with trailing silence or truncates so the scorer
// always sees exactly one analysis window.
func fitWindow(samples []int16) []int16 {
	if len(samples) == analysisWindow {
		return samples
	}
	if len(samples) > analysisWindow {
		return samples[:analysisWindow]
	}
	out := make([]int16, analysisWindow)
	copy(out, samples)
	return out
}
