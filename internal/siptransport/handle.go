package siptransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/call"
)

// ErrCallEnded is returned by operations on a call that already ended.
var ErrCallEnded = errors.New("call already ended")

// rtpMedia is the media binding a call negotiates through SDP.
type rtpMedia interface {
	Offer() ([]byte, error)
	Answer(offer []byte) ([]byte, error)
	SetRemote(body []byte) error
	Start() <-chan struct{}
	Reset()
	SetMuted(muted bool)
	SetVideo(enabled bool)
}

func asRTP(m call.LocalMedia) (rtpMedia, error) {
	r, ok := m.(rtpMedia)
	if !ok || r == nil {
		return nil, fmt.Errorf("local media %T cannot carry rtp", m)
	}
	return r, nil
}

type status int

const (
	statusPending status = iota
	statusEstablished
	statusConnected
	statusEnded
)

func (s status) String() string {
	switch s {
	case statusPending:
		return "pending"
	case statusEstablished:
		return "established"
	case statusConnected:
		return "connected"
	case statusEnded:
		return "ended"
	}
	return "unknown"
}

// handle is one SIP dialog. Outbound handles own the INVITE client
// transaction; inbound handles own the INVITE server transaction until it is
// answered.
type handle struct {
	id       string
	outbound bool
	stack    *Stack
	local    endpoint
	localTag string
	fallback time.Duration

	mu         sync.Mutex
	handlers   call.Handlers
	status     status
	media      rtpMedia
	invite     *sip.Request
	inviteTx   sip.ServerTransaction
	response   *sip.Response
	answered   bool
	cancelDial context.CancelFunc
	cseq       uint32
	done       chan struct{}
	acked      chan struct{}
}

func newHandle(s *Stack, id string, outbound bool, local endpoint) *handle {
	return &handle{
		id:       id,
		outbound: outbound,
		stack:    s,
		local:    local,
		localTag: newTag(),
		fallback: s.cfg.ConnectFallback,
		cseq:     1,
		done:     make(chan struct{}),
		acked:    make(chan struct{}),
	}
}

func (h *handle) ID() string {
	return h.id
}

func (h *handle) SetHandlers(handlers call.Handlers) {
	h.mu.Lock()
	h.handlers = handlers
	st := h.status
	h.mu.Unlock()

	switch st {
	case statusEstablished:
		call.Fire(handlers.OnEstablished)
	case statusConnected:
		call.Fire(handlers.OnConnected)
	case statusEnded:
		call.Fire(handlers.OnEnded)
	}
}

// advance moves the handle forward and fires the matching callback. Events
// that do not move it forward are dropped.
func (h *handle) advance(next status) {
	h.mu.Lock()
	if next <= h.status {
		h.mu.Unlock()
		return
	}
	h.status = next
	handlers := h.handlers
	if next == statusEnded {
		close(h.done)
	}
	h.mu.Unlock()

	log.Debug().Str("call_id", h.id).Str("status", next.String()).Msg("call status changed")

	switch next {
	case statusEstablished:
		call.Fire(handlers.OnEstablished)
	case statusConnected:
		call.Fire(handlers.OnConnected)
	case statusEnded:
		h.release()
		call.Fire(handlers.OnEnded)
	}
}

func (h *handle) release() {
	h.stack.forget(h.id)
	h.mu.Lock()
	m := h.media
	h.mu.Unlock()
	if m != nil {
		m.Reset()
	}
}

// watchMedia reports connected on the first inbound RTP packet, or after the
// fallback delay when the remote side stays silent.
func (h *handle) watchMedia(m rtpMedia) {
	first := m.Start()
	timer := time.NewTimer(h.fallback)
	defer timer.Stop()

	select {
	case <-first:
	case <-timer.C:
		log.Warn().Str("call_id", h.id).Dur("after", h.fallback).Msg("no rtp from remote, assuming connected")
	case <-h.done:
		return
	}
	h.advance(statusConnected)
}

// run drives the outbound INVITE transaction until a final response.
func (h *handle) run(ctx context.Context, tx sip.ClientTransaction) {
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			h.sendCancel()
			h.advance(statusEnded)
			return

		case resp := <-tx.Responses():
			if resp == nil {
				h.advance(statusEnded)
				return
			}
			code := int(resp.StatusCode)
			switch {
			case code < 200:
				log.Debug().Str("call_id", h.id).Int("status", code).Msg("provisional response")
			case code < 300:
				h.onAnswered(resp)
				return
			default:
				log.Info().Str("call_id", h.id).Int("status", code).Str("reason", resp.Reason).Msg("call rejected")
				h.advance(statusEnded)
				return
			}

		case <-tx.Done():
			h.advance(statusEnded)
			return
		}
	}
}

func (h *handle) onAnswered(resp *sip.Response) {
	h.mu.Lock()
	if h.status == statusEnded {
		h.mu.Unlock()
		// Answered after a local hangup: confirm then tear the dialog down.
		h.confirm(resp)
		h.sendBye(resp)
		return
	}
	h.response = resp
	h.answered = true
	m := h.media
	h.mu.Unlock()

	if err := m.SetRemote(resp.Body()); err != nil {
		log.Warn().Err(err).Str("call_id", h.id).Msg("unusable sdp answer")
	}
	h.confirm(resp)
	h.advance(statusEstablished)
	go h.watchMedia(m)
}

func (h *handle) confirm(resp *sip.Response) {
	if err := h.stack.write(buildAck(h.invite, resp)); err != nil {
		log.Warn().Err(err).Str("call_id", h.id).Msg("failed to send ACK")
	}
}

func (h *handle) sendCancel() {
	ctx, cancel := context.WithTimeout(context.Background(), h.stack.cfg.RequestTimeout)
	defer cancel()
	if _, err := h.stack.request(ctx, buildCancel(h.invite)); err != nil {
		log.Debug().Err(err).Str("call_id", h.id).Msg("CANCEL failed")
	}
}

func (h *handle) sendBye(resp *sip.Response) {
	h.mu.Lock()
	h.cseq++
	seq := h.cseq
	h.mu.Unlock()

	bye, err := buildBye(h.outbound, h.invite, resp, h.local, seq)
	if err != nil {
		log.Debug().Err(err).Str("call_id", h.id).Msg("skipping BYE")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.stack.cfg.RequestTimeout)
	defer cancel()
	if _, err := h.stack.request(ctx, bye); err != nil {
		log.Warn().Err(err).Str("call_id", h.id).Msg("BYE failed")
	}
}

func (h *handle) Accept(ctx context.Context, opts call.AcceptOptions) error {
	if h.outbound {
		return fmt.Errorf("cannot accept an outbound call")
	}
	m, err := asRTP(opts.Media)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.status == statusEnded {
		h.mu.Unlock()
		return ErrCallEnded
	}
	if h.answered {
		h.mu.Unlock()
		return nil
	}
	invite, tx := h.invite, h.inviteTx
	h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	answer, err := m.Answer(invite.Body())
	if err != nil {
		return fmt.Errorf("negotiate media: %w", err)
	}
	m.SetVideo(opts.Video)

	resp := respond(invite, sip.StatusOK, "OK", answer, h.localTag)
	resp.AppendHeader(&sip.ContactHeader{Address: h.local.contactURI()})
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)

	h.mu.Lock()
	h.media = m
	h.response = resp
	h.answered = true
	h.mu.Unlock()

	if err := tx.Respond(resp); err != nil {
		h.mu.Lock()
		h.response = nil
		h.answered = false
		h.mu.Unlock()
		m.Reset()
		return fmt.Errorf("send 200 OK: %w", err)
	}

	go h.awaitAck(m)
	return nil
}

// awaitAck confirms an answered inbound dialog. A missing ACK ends the call.
func (h *handle) awaitAck(m rtpMedia) {
	timer := time.NewTimer(h.stack.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-h.acked:
		h.advance(statusEstablished)
		h.watchMedia(m)
	case <-timer.C:
		log.Warn().Str("call_id", h.id).Msg("no ACK for 200 OK, ending call")
		h.sendBye(h.responseSnapshot())
		h.advance(statusEnded)
	case <-h.done:
	}
}

func (h *handle) responseSnapshot() *sip.Response {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.response
}

// onAck is called by the stack for every ACK of this dialog.
func (h *handle) onAck() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.acked:
	default:
		close(h.acked)
	}
}

// onRemoteCancel handles CANCEL for an unanswered inbound call.
func (h *handle) onRemoteCancel() bool {
	h.mu.Lock()
	if h.answered || h.status == statusEnded {
		h.mu.Unlock()
		return false
	}
	invite, tx := h.invite, h.inviteTx
	h.mu.Unlock()

	if err := tx.Respond(respond(invite, 487, "Request Terminated", nil, h.localTag)); err != nil {
		log.Debug().Err(err).Str("call_id", h.id).Msg("failed to send 487")
	}
	h.advance(statusEnded)
	return true
}

// End hangs up locally. It does not fire OnEnded.
func (h *handle) End() error {
	h.mu.Lock()
	if h.status == statusEnded {
		h.mu.Unlock()
		return nil
	}
	h.status = statusEnded
	close(h.done)
	answered, resp := h.answered, h.response
	invite, tx, cancelDial := h.invite, h.inviteTx, h.cancelDial
	h.mu.Unlock()

	h.release()

	switch {
	case h.outbound && !answered:
		if cancelDial != nil {
			cancelDial()
		}
	case !h.outbound && !answered:
		if err := tx.Respond(respond(invite, 486, "Busy Here", nil, h.localTag)); err != nil {
			return fmt.Errorf("reject call: %w", err)
		}
	default:
		go h.sendBye(resp)
	}

	log.Info().Str("call_id", h.id).Bool("answered", answered).Msg("call ended locally")
	return nil
}

func (h *handle) mediaOrErr() (rtpMedia, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == statusEnded {
		return nil, ErrCallEnded
	}
	if h.media == nil {
		return nil, fmt.Errorf("call has no media yet")
	}
	return h.media, nil
}

func (h *handle) MuteAudio() error {
	m, err := h.mediaOrErr()
	if err != nil {
		return err
	}
	m.SetMuted(true)
	return nil
}

func (h *handle) UnmuteAudio() error {
	m, err := h.mediaOrErr()
	if err != nil {
		return err
	}
	m.SetMuted(false)
	return nil
}

func (h *handle) StopVideo() error {
	m, err := h.mediaOrErr()
	if err != nil {
		return err
	}
	m.SetVideo(false)
	return nil
}

func (h *handle) StartVideo() error {
	m, err := h.mediaOrErr()
	if err != nil {
		return err
	}
	m.SetVideo(true)
	return nil
}
