// Package media binds a call to a local RTP socket. The room server has no
// capture device of its own; it keeps the stream alive with G.711 silence and
// reports when the remote side starts sending.
package media

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

const (
	frameInterval    = 20 * time.Millisecond
	samplesPerFrame  = 160
	readBufferSize   = 1500
	readPollInterval = 200 * time.Millisecond
)

// silenceFrame is one 20 ms PCMU frame of 16-bit linear zeros.
var silenceFrame = g711.EncodeUlaw(make([]byte, samplesPerFrame*2))

// Session is a single RTP endpoint. It implements call.LocalMedia.
type Session struct {
	conn      *net.UDPConn
	host      string
	port      int
	sessionID uint64
	release   func()

	mu       sync.Mutex
	remote   *net.UDPAddr
	muted    bool
	video    bool
	started  bool
	first    chan struct{}
	gotFirst bool
	ssrc     uint32
	seq      uint16
	ts       uint32
	stop     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
}

func newSession(conn *net.UDPConn, host string, video bool, release func()) *Session {
	addr := conn.LocalAddr().(*net.UDPAddr)
	return &Session{
		conn:      conn,
		host:      host,
		port:      addr.Port,
		sessionID: uint64(randomUint32()),
		release:   release,
		video:     video,
		first:     make(chan struct{}),
		ssrc:      randomUint32(),
		seq:       uint16(randomUint32()),
		ts:        randomUint32(),
	}
}

// Port is the local RTP port advertised in SDP.
func (s *Session) Port() int {
	return s.port
}

// Offer returns the local SDP offer.
func (s *Session) Offer() ([]byte, error) {
	return BuildSDP(s.sessionID, s.host, s.port)
}

// Answer records the remote endpoint from offer and returns the local answer.
func (s *Session) Answer(offer []byte) ([]byte, error) {
	if err := s.SetRemote(offer); err != nil {
		return nil, err
	}
	return BuildSDP(s.sessionID, s.host, s.port)
}

// SetRemote records the remote endpoint described by body.
func (s *Session) SetRemote(body []byte) error {
	ep, err := ParseSDP(body)
	if err != nil {
		return err
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ep.Host, fmt.Sprint(ep.Port)))
	if err != nil {
		return fmt.Errorf("resolve remote rtp address: %w", err)
	}

	s.mu.Lock()
	s.remote = addr
	s.mu.Unlock()
	return nil
}

// Start begins sending silence and watching for inbound packets. It returns
// a channel closed on the first valid RTP packet of this call.
func (s *Session) Start() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return s.first
	}
	s.started = true
	s.stop = make(chan struct{})
	s.wg.Add(2)
	go s.readLoop(s.stop, s.first)
	go s.writeLoop(s.stop)
	return s.first
}

// Reset stops the flow and forgets the remote so the socket can serve the
// next call.
func (s *Session) Reset() {
	s.mu.Lock()
	if !s.started {
		s.remote = nil
		s.mu.Unlock()
		return
	}
	close(s.stop)
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.remote = nil
	s.first = make(chan struct{})
	s.gotFirst = false
	s.mu.Unlock()
}

func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SetVideo records whether the local side offers video. Only audio is
// carried on the RTP socket.
func (s *Session) SetVideo(enabled bool) {
	s.mu.Lock()
	s.video = enabled
	s.mu.Unlock()
}

func (s *Session) Video() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Reset()
		err = s.conn.Close()
		if s.release != nil {
			s.release()
		}
	})
	return err
}

func (s *Session) readLoop(stop <-chan struct{}, first chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug().Err(err).Int("port", s.port).Msg("rtp read failed")
			continue
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		s.mu.Lock()
		if s.remote == nil {
			s.remote = from
		}
		fire := !s.gotFirst
		s.gotFirst = true
		s.mu.Unlock()

		if fire {
			log.Debug().
				Int("port", s.port).
				Uint32("ssrc", pkt.SSRC).
				Msg("first rtp packet received")
			close(first)
		}
	}
}

func (s *Session) writeLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		remote, muted := s.remote, s.muted
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    PayloadPCMU,
				SequenceNumber: s.seq,
				Timestamp:      s.ts,
				SSRC:           s.ssrc,
			},
			Payload: silenceFrame,
		}
		s.seq++
		s.ts += samplesPerFrame
		s.mu.Unlock()

		if remote == nil || muted {
			continue
		}

		data, err := pkt.Marshal()
		if err != nil {
			log.Warn().Err(err).Msg("rtp marshal failed")
			continue
		}
		if _, err := s.conn.WriteToUDP(data, remote); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug().Err(err).Str("remote", remote.String()).Msg("rtp write failed")
		}
	}
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x5eed5eed
	}
	return binary.BigEndian.Uint32(b[:])
}
