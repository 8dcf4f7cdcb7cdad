package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/logging"
	"github.com/KilimcininKorOglu/obarepl/internal/replication/protocol"
)

// Defaults applied by Options.
const (
	DefaultQueueCapacity = 1000
	DefaultMaxFrameSize  = 64 * 1024 * 1024
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultCloseTimeout  = 5 * time.Second

	// headerLen is the size of the frame length prefix.
	headerLen = 8
)

// Options configures a Session.
type Options struct {
	// Version is the protocol version used until SetProtocolVersion is
	// called. Zero means protocol.CurrentVersion.
	Version protocol.ProtocolVersion

	// QueueCapacity bounds the number of frames waiting for the sender.
	QueueCapacity int

	// MaxFrameSize bounds the payload length accepted from the peer.
	MaxFrameSize int

	// PollInterval is how long one enqueue attempt waits before the
	// closing flag is checked again.
	PollInterval time.Duration

	// CloseTimeout bounds the StopMsg write done by Close.
	CloseTimeout time.Duration

	Logger logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Version == 0 {
		o.Version = protocol.CurrentVersion
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = DefaultCloseTimeout
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

// Session carries replication messages over one connection.
//
// Frames are an eight digit lowercase hexadecimal payload length followed
// by the encoded message. A session has a single reader; any number of
// goroutines may publish. Once StartSender has been called, Publish only
// enqueues and a dedicated goroutine writes frames in FIFO order.
type Session struct {
	id     string
	plain  net.Conn
	secure *tls.Conn // nil for sessions that never negotiated TLS
	opts   Options
	logger logging.Logger

	version   atomic.Uint32
	encrypted atomic.Bool

	// publishMu serializes frame writes and guards writer.
	publishMu sync.Mutex
	writer    *bufio.Writer

	// readMu guards reader and the read timeout.
	readMu      sync.Mutex
	reader      io.Reader
	readTimeout time.Duration
	hasDeadline bool // a read deadline is set on the connection

	// stateMu guards closing and err.
	stateMu sync.Mutex
	closing bool
	err     error

	lastPublish atomic.Int64
	lastReceive atomic.Int64

	queue         chan []byte
	stopCh        chan struct{}
	senderDone    chan struct{}
	senderOnce    sync.Once
	senderRunning atomic.Bool
}

func newSession(plain net.Conn, secure *tls.Conn, opts Options) *Session {
	opts = opts.withDefaults()
	id := logging.GenerateRequestID()

	s := &Session{
		id:         id,
		plain:      plain,
		secure:     secure,
		opts:       opts,
		queue:      make(chan []byte, opts.QueueCapacity),
		stopCh:     make(chan struct{}),
		senderDone: make(chan struct{}),
	}
	s.logger = opts.Logger.Named("session").WithRequestID(id).WithFields("peer", s.RemoteAddr())
	s.version.Store(uint32(opts.Version))

	if secure != nil {
		s.encrypted.Store(true)
		s.reader = secure
		s.writer = bufio.NewWriter(secure)
	} else {
		s.reader = plain
		s.writer = bufio.NewWriter(plain)
	}

	now := time.Now().UnixNano()
	s.lastPublish.Store(now)
	s.lastReceive.Store(now)
	return s
}

// ID returns the identifier used to correlate this session's log lines.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the address of the peer.
func (s *Session) RemoteAddr() string {
	if addr := s.plain.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// ProtocolVersion returns the version used to encode and decode messages.
func (s *Session) ProtocolVersion() protocol.ProtocolVersion {
	return protocol.ProtocolVersion(s.version.Load())
}

// SetProtocolVersion sets the version negotiated with the peer.
func (s *Session) SetProtocolVersion(v protocol.ProtocolVersion) {
	s.version.Store(uint32(v))
}

// Encrypted reports whether frames currently travel over TLS.
func (s *Session) Encrypted() bool {
	return s.encrypted.Load()
}

// StopEncryption moves the session to the plain connection. It is used
// after the start handshake when neither side asked for an encrypted
// session. The switch is one-way and must happen while no Receive is in
// progress.
func (s *Session) StopEncryption() {
	if s.secure == nil || !s.encrypted.Load() {
		return
	}

	s.readMu.Lock()
	s.publishMu.Lock()
	defer s.readMu.Unlock()
	defer s.publishMu.Unlock()

	s.writer.Flush()
	s.reader = s.plain
	s.writer = bufio.NewWriter(s.plain)
	s.encrypted.Store(false)
	s.logger.Debug("stopped encryption")
}

// SetReadTimeout sets the deadline applied to each Receive. Zero blocks
// until a frame arrives.
func (s *Session) SetReadTimeout(d time.Duration) {
	s.readMu.Lock()
	s.readTimeout = d
	s.readMu.Unlock()
}

// LastPublishTime returns when a frame was last written.
func (s *Session) LastPublishTime() time.Time {
	return time.Unix(0, s.lastPublish.Load())
}

// LastReceiveTime returns when a receive last started or finished.
func (s *Session) LastReceiveTime() time.Time {
	return time.Unix(0, s.lastReceive.Load())
}

// Err returns the first I/O error seen by the session, or nil.
func (s *Session) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.err
}

// Closing reports whether Close has been called.
func (s *Session) Closing() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closing
}

// Done returns a channel closed once Close has run.
func (s *Session) Done() <-chan struct{} {
	return s.stopCh
}

// fail records err as the session error unless an earlier error was
// recorded or the session is closing, and returns it as an IOError.
func (s *Session) fail(op string, err error) error {
	ioErr := &IOError{Op: op, Err: err}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closing {
		return ioErr
	}
	if s.err == nil {
		s.err = ioErr
		s.logger.Debug("session error", "op", op, "error", err)
	}
	return ioErr
}

// checkOpen returns ErrSessionClosed when closing, the session error when
// one was recorded, nil otherwise.
func (s *Session) checkOpen() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closing {
		return ErrSessionClosed
	}
	return s.err
}

// StartSender starts the goroutine that writes queued frames. Until it is
// called, Publish writes synchronously.
func (s *Session) StartSender() {
	s.senderOnce.Do(func() {
		s.senderRunning.Store(true)
		go s.runSender()
	})
}

func (s *Session) runSender() {
	defer close(s.senderDone)

	for {
		select {
		case <-s.stopCh:
			return
		case data := <-s.queue:
			if err := s.writeFrame(data, false); err != nil {
				if !errors.Is(err, ErrSessionClosed) {
					s.logger.Warn("sender stopped", "error", err)
				}
				return
			}
		}
	}
}

// Publish sends msg to the peer. See PublishContext.
func (s *Session) Publish(msg protocol.Msg) error {
	return s.PublishContext(context.Background(), msg)
}

// PublishContext encodes msg at the session version and sends it. Messages
// that do not exist at that version are dropped silently.
//
// With a running sender the frame is queued, retrying every PollInterval
// while the queue is full and returning ErrSessionClosed once the session
// starts closing. A cancelled ctx is reported as an IOError.
func (s *Session) PublishContext(ctx context.Context, msg protocol.Msg) error {
	v := s.ProtocolVersion()
	data := msg.Bytes(v)
	if data == nil {
		s.logger.Debug("message not supported at version, dropped", "type", msg.Type(), "version", v)
		return nil
	}

	if !s.senderRunning.Load() {
		return s.writeFrame(data, false)
	}

	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()

	for {
		if err := s.checkOpen(); err != nil {
			return err
		}
		select {
		case s.queue <- data:
			return nil
		case <-ctx.Done():
			return &IOError{Op: "publish", Err: ctx.Err()}
		case <-timer.C:
			timer.Reset(s.opts.PollInterval)
		}
	}
}

// writeFrame writes one frame and flushes it. With force set the closing
// flag is ignored, which Close uses for the final StopMsg.
func (s *Session) writeFrame(data []byte, force bool) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !force {
		if err := s.checkOpen(); err != nil {
			return err
		}
	}

	var hdr [headerLen]byte
	putFrameHeader(hdr[:], len(data))

	if _, err := s.writer.Write(hdr[:]); err != nil {
		return s.fail("publish", err)
	}
	if _, err := s.writer.Write(data); err != nil {
		return s.fail("publish", err)
	}
	if err := s.writer.Flush(); err != nil {
		return s.fail("publish", err)
	}

	s.lastPublish.Store(time.Now().UnixNano())
	return nil
}

const hexDigits = "0123456789abcdef"

func putFrameHeader(b []byte, n int) {
	for i := headerLen - 1; i >= 0; i-- {
		b[i] = hexDigits[n&0xf]
		n >>= 4
	}
}

// Receive reads and decodes the next message.
//
// A read timeout hit before any byte of the frame arrived is returned as a
// non-fatal IOError. Every other transport failure, including a frame cut
// short by EOF, is recorded as the session error. Decode failures match
// protocol.ErrMalformedMessage and leave the session usable. Once an error
// is recorded or the session is closing, Receive returns that error
// without reading.
func (s *Session) Receive() (protocol.Msg, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.lastReceive.Store(time.Now().UnixNano())
	defer func() { s.lastReceive.Store(time.Now().UnixNano()) }()

	if s.readTimeout > 0 || s.hasDeadline {
		var deadline time.Time
		if s.readTimeout > 0 {
			deadline = time.Now().Add(s.readTimeout)
		}
		if err := s.plain.SetReadDeadline(deadline); err != nil {
			return nil, s.fail("receive", err)
		}
		s.hasDeadline = s.readTimeout > 0
	}

	var hdr [headerLen]byte
	n, err := io.ReadFull(s.reader, hdr[:])
	if err != nil {
		if n == 0 && isTimeout(err) {
			return nil, &IOError{Op: "receive", Err: err}
		}
		return nil, s.fail("receive", err)
	}

	size, err := strconv.ParseUint(string(hdr[:]), 16, 32)
	if err != nil {
		return nil, s.fail("receive", ErrInvalidFrameHeader)
	}
	if size > uint64(s.opts.MaxFrameSize) {
		return nil, s.fail("receive", ErrFrameTooLarge)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(s.reader, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, s.fail("receive", err)
	}

	return protocol.GenerateMsg(data, s.ProtocolVersion())
}

// Close shuts the session down. The first call sends a StopMsg when the
// protocol has one and no I/O error occurred, closes the connection and
// waits for the sender to exit. Later calls return nil.
func (s *Session) Close() error {
	s.stateMu.Lock()
	if s.closing {
		s.stateMu.Unlock()
		return nil
	}
	s.closing = true
	failed := s.err != nil
	s.stateMu.Unlock()

	if !failed && s.ProtocolVersion() >= protocol.V4 {
		s.plain.SetWriteDeadline(time.Now().Add(s.opts.CloseTimeout))
		if data := (&protocol.StopMsg{}).Bytes(s.ProtocolVersion()); data != nil {
			if err := s.writeFrame(data, true); err != nil {
				s.logger.Debug("could not send stop message", "error", err)
			}
		}
	}

	var err error
	if s.encrypted.Load() {
		err = s.secure.Close()
	} else {
		err = s.plain.Close()
	}

	close(s.stopCh)
	if s.senderRunning.Load() {
		<-s.senderDone
	}

	s.logger.Debug("session closed")
	return err
}
