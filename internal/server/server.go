// Package server implements the echoip responder.
//
// The server owns one UDP socket and answers each inbound datagram, one at a
// time, with the sender's IPv4 address. No per-datagram failure stops the
// loop: errors are logged and counted and the next datagram is read. Only a
// failure to bind the socket is fatal.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/mjochimsen/echoip/internal/health"
	"github.com/mjochimsen/echoip/internal/logging"
	"github.com/mjochimsen/echoip/internal/metrics"
	"github.com/mjochimsen/echoip/internal/protocol"
	"github.com/mjochimsen/echoip/internal/recovery"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

const (
	// Consecutive receive errors back off from minReceiveBackoff, doubling
	// up to maxReceiveBackoff, so a failing socket cannot spin the loop.
	minReceiveBackoff = 5 * time.Millisecond
	maxReceiveBackoff = time.Second

	// At most errorLogBurst datagram errors are logged per second. The
	// rest are counted and reported with the next logged error.
	errorLogBurst = 10
)

// Config holds the server settings.
type Config struct {
	// Address is the IPv4 endpoint to listen on. Port 0 picks a free port.
	Address netip.AddrPort

	// RateLimit caps responses per second. 0 means unlimited.
	RateLimit float64

	// RateBurst is the token bucket size. Values below 1 become 1.
	RateBurst int

	// ReusePort sets SO_REUSEPORT so several processes can share the port.
	ReusePort bool
}

// DefaultConfig listens on all interfaces at the default port.
func DefaultConfig() Config {
	return Config{
		Address: netip.AddrPortFrom(netip.IPv4Unspecified(), protocol.DefaultPort),
	}
}

// Server answers echoip probes.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	errorLog   *rate.Limiter
	suppressed atomic.Uint64

	conn      datagramConn
	running   atomic.Bool
	closed    atomic.Bool
	startedAt time.Time

	received  atomic.Uint64
	responded atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a server. A nil m records into a private registry.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	}

	s := &Server{
		cfg:     cfg,
		logger:   logger.With(slog.String(logging.KeyComponent, "server")),
		metrics:  m,
		errorLog: rate.NewLimiter(rate.Every(time.Second/errorLogBurst), errorLogBurst),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return s
}

// Listen binds the listening socket. The only error it returns is a
// *protocol.Error of kind BindFailure.
func (s *Server) Listen() error {
	if !s.cfg.Address.Addr().Unmap().Is4() {
		return protocol.NewError(protocol.BindFailure, s.cfg.Address,
			errors.New("listen address must be IPv4"))
	}

	lc := net.ListenConfig{Control: listenControl(s.cfg.ReusePort)}
	pc, err := lc.ListenPacket(context.Background(), "udp4", s.cfg.Address.String())
	if err != nil {
		return protocol.NewError(protocol.BindFailure, s.cfg.Address, err)
	}

	s.conn = newPacketConn(pc.(*net.UDPConn), s.cfg.Address.Addr().IsUnspecified(), s.logger)
	s.logger.Info("listening", logging.KeyLocalAddr, s.Addr().String())
	return nil
}

// Serve runs the receive loop until ctx is cancelled or Close is called.
// It returns nil after cancellation and ErrServerClosed after Close.
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("serve called before listen")
	}
	return s.serve(ctx, s.conn)
}

// ListenAndServe binds the socket and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) serve(ctx context.Context, conn datagramConn) error {
	s.startedAt = time.Now()
	s.running.Store(true)
	s.metrics.SetServing(true)
	defer func() {
		s.running.Store(false)
		s.metrics.SetServing(false)
	}()

	// Closing the socket is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	local := addrPortOf(conn.LocalAddr())
	buf := make([]byte, protocol.ServerBufferSize)

	var backoff time.Duration
	for {
		n, cm, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.report(protocol.NewError(protocol.ReceiveFailure, local, err))

			backoff = nextBackoff(backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		s.handle(conn, n, cm, src)
	}
}

// handle answers one datagram. It never panics or returns an error.
func (s *Server) handle(conn datagramConn, n int, cm *ipv4.ControlMessage, src net.Addr) {
	defer recovery.RecoverWithCallback(s.logger, "datagram", func(any) {
		s.dropped.Add(1)
		s.metrics.RecordDropped(metrics.DropPanic)
	})

	s.received.Add(1)
	s.metrics.RecordReceived()

	sender, err := classifySender(src)
	if err != nil {
		s.report(err)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		s.dropped.Add(1)
		s.metrics.RecordDropped(metrics.DropRateLimited)
		s.logger.Debug("rate limit exceeded, dropping datagram",
			logging.KeyRemoteAddr, sender.String())
		return
	}

	payload := protocol.Encode(sender.Addr())
	sent, err := conn.WriteTo(payload[:], cm, net.UDPAddrFromAddrPort(sender))
	if err != nil {
		s.report(protocol.NewError(protocol.SendFailure, sender, err))
		return
	}
	if sent != protocol.PayloadSize {
		s.report(protocol.NewSizeError(protocol.MismatchedSendSize, sender, sent, protocol.PayloadSize))
		return
	}

	s.responded.Add(1)
	s.metrics.RecordResponse(sent)
	s.logger.Debug("answered probe",
		logging.KeyRemoteAddr, sender.String(),
		logging.KeyBytes, n)
}

// classifySender accepts only IPv4 UDP senders. IPv4-mapped IPv6 addresses
// are unmapped; anything else is an InvalidAddress error.
func classifySender(addr net.Addr) (netip.AddrPort, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok || udp == nil {
		return netip.AddrPort{}, protocol.NewError(protocol.InvalidAddress, netip.AddrPort{},
			fmt.Errorf("unsupported sender address %v", addr))
	}

	ap := udp.AddrPort()
	ip := ap.Addr().Unmap()
	if !ip.Is4() {
		return netip.AddrPort{}, protocol.NewError(protocol.InvalidAddress, ap, nil)
	}
	return netip.AddrPortFrom(ip, ap.Port()), nil
}

// nextBackoff returns the wait after one more consecutive receive error.
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minReceiveBackoff
	}
	return min(2*d, maxReceiveBackoff)
}

// report counts a per-datagram error and logs it unless errors are
// arriving faster than the log allows.
func (s *Server) report(err error) {
	kind := protocol.KindOf(err)

	s.failed.Add(1)
	s.metrics.RecordError(kind.String())

	if !s.errorLog.Allow() {
		s.suppressed.Add(1)
		return
	}

	attrs := []any{logging.KeyKind, kind.String(), logging.KeyError, err}
	if n := s.suppressed.Swap(0); n > 0 {
		attrs = append(attrs, "suppressed", n)
	}
	s.logger.Warn("datagram error", attrs...)
}

// Close stops the receive loop and releases the socket.
func (s *Server) Close() error {
	if s.conn == nil || s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// Addr returns the bound endpoint, with the real port when 0 was requested.
func (s *Server) Addr() netip.AddrPort {
	if s.conn == nil {
		return s.cfg.Address
	}
	return addrPortOf(s.conn.LocalAddr())
}

// IsRunning returns true while the receive loop is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() health.Stats {
	stats := health.Stats{
		Address:   s.Addr().String(),
		Received:  s.received.Load(),
		Responded: s.responded.Load(),
		Errors:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
	if s.IsRunning() {
		stats.Uptime = time.Since(s.startedAt)
	}
	return stats
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	if udp, ok := addr.(*net.UDPAddr); ok {
		ap := udp.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}
