// Package encoder writes normalized capture samples into an MP4 file using
// libav (go-astiav): H.264 High video and optional AAC-LC mono audio, muxed
// while the recording is still running so memory stays bounded.
package encoder

import (
	"errors"
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/mieweb/pulse-desktop/lib/media"
)

const (
	audioSampleRate = 48000
	audioBitrate    = 128_000
)

// nanosecond timebase for incoming normalized sample timestamps
var nanoTimeBase = astiav.NewRational(1, 1_000_000_000)

// ErrNotOpen is returned when samples arrive before Open or after Finalize.
var ErrNotOpen = errors.New("encoder sink is not open")

// Sink owns the MP4 output: one H.264 video stream and, when the microphone
// is enabled, one AAC audio stream. Open must succeed before samples are
// written; Finalize flushes both encoders and writes the container trailer.
type Sink struct {
	mu sync.Mutex

	cfg  media.RecordingConfig
	open bool

	oc *astiav.FormatContext
	pb *astiav.IOContext

	vCtx    *astiav.CodecContext
	vStream *astiav.Stream
	vFrame  *astiav.Frame

	aCtx     *astiav.CodecContext
	aStream  *astiav.Stream
	aInFrame *astiav.Frame
	aFrame   *astiav.Frame
	aSwr     *astiav.SoftwareResampleContext
	aSamples int64
}

func NewSink(cfg media.RecordingConfig) *Sink {
	return &Sink{cfg: cfg}
}

// Open creates the output file, configures the encoders and writes the
// container header. Any failure here is fatal for the session.
func (s *Sink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("sink already open")
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("rejected encoder configuration: %w", err)
	}

	oc, err := astiav.AllocOutputFormatContext(nil, "mp4", s.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to allocate output context: %w", err)
	}
	if oc == nil {
		return errors.New("failed to allocate output context")
	}

	if err := s.openVideo(oc); err != nil {
		s.closeLocked()
		oc.Free()
		return err
	}
	if s.cfg.CaptureMic {
		if err := s.openAudio(oc); err != nil {
			s.closeLocked()
			oc.Free()
			return err
		}
	}

	pb, err := astiav.OpenIOContext(s.cfg.OutputPath, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		s.closeLocked()
		oc.Free()
		return fmt.Errorf("failed to open output file: %w", err)
	}
	oc.SetPb(pb)

	if err := oc.WriteHeader(nil); err != nil {
		_ = pb.Close()
		pb.Free()
		s.closeLocked()
		oc.Free()
		return fmt.Errorf("failed to write container header: %w", err)
	}

	s.oc = oc
	s.pb = pb
	s.open = true
	return nil
}

func (s *Sink) openVideo(oc *astiav.FormatContext) error {
	codec := astiav.FindEncoder(astiav.CodecIDH264)
	if codec == nil {
		return errors.New("h264 encoder not available")
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return errors.New("failed to allocate video codec context")
	}

	ctx.SetWidth(s.cfg.Width)
	ctx.SetHeight(s.cfg.Height)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(1, 90000))
	ctx.SetFramerate(astiav.NewRational(s.cfg.FPS, 1))
	ctx.SetBitRate(s.cfg.Bitrate())
	// keyframe every two seconds
	ctx.SetGopSize(2 * s.cfg.FPS)
	ctx.SetProfile(astiav.ProfileH264High)
	ctx.SetFlags(ctx.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("preset", "veryfast", 0)
	_ = opts.Set("tune", "zerolatency", 0)

	if err := ctx.Open(codec, opts); err != nil {
		ctx.Free()
		return fmt.Errorf("failed to open h264 encoder: %w", err)
	}

	stream := oc.NewStream(codec)
	if stream == nil {
		ctx.Free()
		return errors.New("failed to add video stream")
	}
	if err := ctx.ToCodecParameters(stream.CodecParameters()); err != nil {
		ctx.Free()
		return fmt.Errorf("failed to copy video codec parameters: %w", err)
	}
	stream.SetTimeBase(ctx.TimeBase())

	frame := astiav.AllocFrame()
	frame.SetWidth(s.cfg.Width)
	frame.SetHeight(s.cfg.Height)
	frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := frame.AllocBuffer(1); err != nil {
		frame.Free()
		ctx.Free()
		return fmt.Errorf("failed to allocate video frame: %w", err)
	}

	s.vCtx = ctx
	s.vStream = stream
	s.vFrame = frame
	return nil
}

func (s *Sink) openAudio(oc *astiav.FormatContext) error {
	codec := astiav.FindEncoder(astiav.CodecIDAac)
	if codec == nil {
		return errors.New("aac encoder not available")
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return errors.New("failed to allocate audio codec context")
	}

	ctx.SetChannelLayout(astiav.ChannelLayoutMono)
	ctx.SetSampleRate(audioSampleRate)
	if sfs := codec.SampleFormats(); len(sfs) > 0 {
		ctx.SetSampleFormat(sfs[0])
	} else {
		ctx.SetSampleFormat(astiav.SampleFormatFltp)
	}
	ctx.SetTimeBase(astiav.NewRational(1, audioSampleRate))
	ctx.SetBitRate(audioBitrate)
	ctx.SetStrictStdCompliance(astiav.StrictStdComplianceExperimental)
	ctx.SetFlags(ctx.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return fmt.Errorf("failed to open aac encoder: %w", err)
	}

	stream := oc.NewStream(codec)
	if stream == nil {
		ctx.Free()
		return errors.New("failed to add audio stream")
	}
	if err := ctx.ToCodecParameters(stream.CodecParameters()); err != nil {
		ctx.Free()
		return fmt.Errorf("failed to copy audio codec parameters: %w", err)
	}
	stream.SetTimeBase(ctx.TimeBase())

	swr := astiav.AllocSoftwareResampleContext()
	if swr == nil {
		ctx.Free()
		return errors.New("failed to allocate audio resampler")
	}

	s.aCtx = ctx
	s.aStream = stream
	s.aSwr = swr
	s.aInFrame = astiav.AllocFrame()
	s.aFrame = astiav.AllocFrame()
	return nil
}

// WriteVideo encodes and muxes one normalized yuv420p frame. Errors are
// per-sample: the caller logs and drops, the recording continues.
func (s *Sink) WriteVideo(sample media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}

	if err := s.vFrame.MakeWritable(); err != nil {
		return fmt.Errorf("video frame not writable: %w", err)
	}
	if err := s.vFrame.Data().SetBytes(sample.Data, 1); err != nil {
		return fmt.Errorf("failed to fill video frame: %w", err)
	}
	s.vFrame.SetPts(astiav.RescaleQ(sample.PTS.Nanoseconds(), nanoTimeBase, s.vCtx.TimeBase()))

	return s.encode(s.vCtx, s.vFrame, s.vStream)
}

// WriteAudio resamples, encodes and muxes one normalized PCM chunk
// (S16LE, 48 kHz, mono).
func (s *Sink) WriteAudio(sample media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}
	if s.aCtx == nil {
		return errors.New("audio track not configured")
	}

	nbSamples := len(sample.Data) / 2
	if nbSamples == 0 {
		return nil
	}

	s.aInFrame.Unref()
	s.aInFrame.SetSampleFormat(astiav.SampleFormatS16)
	s.aInFrame.SetChannelLayout(astiav.ChannelLayoutMono)
	s.aInFrame.SetSampleRate(audioSampleRate)
	s.aInFrame.SetNbSamples(nbSamples)
	if err := s.aInFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("failed to allocate input audio frame: %w", err)
	}
	if err := s.aInFrame.Data().SetBytes(sample.Data, 0); err != nil {
		return fmt.Errorf("failed to fill audio frame: %w", err)
	}

	s.aFrame.Unref()
	s.aFrame.SetSampleFormat(s.aCtx.SampleFormat())
	s.aFrame.SetChannelLayout(s.aCtx.ChannelLayout())
	s.aFrame.SetSampleRate(s.aCtx.SampleRate())
	s.aFrame.SetNbSamples(s.aCtx.FrameSize())
	if err := s.aFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("failed to allocate encoder audio frame: %w", err)
	}

	if err := s.aSwr.ConvertFrame(s.aInFrame, s.aFrame); err != nil {
		return fmt.Errorf("failed to resample audio: %w", err)
	}

	s.aFrame.SetPts(s.aSamples)
	s.aSamples += int64(s.aFrame.NbSamples())

	return s.encode(s.aCtx, s.aFrame, s.aStream)
}

// encode pushes a frame through ctx and muxes every packet it yields.
// Callers hold s.mu.
func (s *Sink) encode(ctx *astiav.CodecContext, frame *astiav.Frame, stream *astiav.Stream) error {
	if err := ctx.SendFrame(frame); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("encoder rejected frame: %w", err)
	}

	for {
		pkt := astiav.AllocPacket()
		if err := ctx.ReceivePacket(pkt); err != nil {
			pkt.Free()
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("encoder receive failed: %w", err)
		}

		pkt.SetStreamIndex(stream.Index())
		pkt.RescaleTs(ctx.TimeBase(), stream.TimeBase())
		err := s.oc.WriteInterleavedFrame(pkt)
		pkt.Unref()
		pkt.Free()
		if err != nil {
			return fmt.Errorf("failed to mux packet: %w", err)
		}
	}
}

// Finalize flushes both encoders, writes the MP4 trailer and closes the file.
// A failure here means the output may be incomplete and must be reported.
func (s *Sink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return ErrNotOpen
	}
	s.open = false

	var errs []error
	if err := s.encode(s.vCtx, nil, s.vStream); err != nil {
		errs = append(errs, fmt.Errorf("video flush: %w", err))
	}
	if s.aCtx != nil {
		if err := s.encode(s.aCtx, nil, s.aStream); err != nil {
			errs = append(errs, fmt.Errorf("audio flush: %w", err))
		}
	}

	if err := s.oc.WriteTrailer(); err != nil {
		errs = append(errs, fmt.Errorf("trailer: %w", err))
	}

	if s.pb != nil {
		if err := s.pb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
		s.pb.Free()
		s.pb = nil
	}

	s.closeLocked()
	s.oc.Free()
	s.oc = nil

	if len(errs) > 0 {
		return fmt.Errorf("failed to finalize recording: %w", errors.Join(errs...))
	}
	return nil
}

// closeLocked frees codec-level resources. Callers hold s.mu.
func (s *Sink) closeLocked() {
	if s.vFrame != nil {
		s.vFrame.Free()
		s.vFrame = nil
	}
	if s.vCtx != nil {
		s.vCtx.Free()
		s.vCtx = nil
	}
	if s.aInFrame != nil {
		s.aInFrame.Free()
		s.aInFrame = nil
	}
	if s.aFrame != nil {
		s.aFrame.Free()
		s.aFrame = nil
	}
	if s.aSwr != nil {
		s.aSwr.Free()
		s.aSwr = nil
	}
	if s.aCtx != nil {
		s.aCtx.Free()
		s.aCtx = nil
	}
}
