// Package siptransport implements call.Transport on top of SIP. One Stack
// per process owns the UDP listener; each room gets its own Transport bound
// to an identity on that stack.
package siptransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/call"
	"github.com/counselhub/room-server-go/internal/config"
)

type Config struct {
	ListenAddr      string
	AdvertiseHost   string
	Port            int
	Domain          string
	Registrar       string
	UserAgent       string
	RegisterExpires int
	RequestTimeout  time.Duration
	AckTimeout      time.Duration
	ConnectFallback time.Duration
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "room-server"
	}
	if c.RegisterExpires <= 0 {
		c.RegisterExpires = config.SIPRegisterExpires
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = config.SIPRequestTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = config.SIPAckTimeout
	}
	if c.ConnectFallback <= 0 {
		c.ConnectFallback = config.MediaConnectFallback
	}
}

type listenerEntry struct {
	name     string
	listener call.Listener
}

type Stack struct {
	cfg       Config
	ua        *sipgo.UserAgent
	server    *sipgo.Server
	client    *sipgo.Client
	registrar *sip.Uri

	mu        sync.Mutex
	listeners map[string]listenerEntry
	calls     map[string]*handle
}

func NewStack(cfg Config) (*Stack, error) {
	cfg.applyDefaults()

	var registrar *sip.Uri
	if cfg.Registrar != "" {
		var uri sip.Uri
		if err := sip.ParseUri(cfg.Registrar, &uri); err != nil {
			return nil, fmt.Errorf("invalid registrar uri: %w", err)
		}
		registrar = &uri
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent(cfg.UserAgent))
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.AdvertiseHost))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	s := &Stack{
		cfg:       cfg,
		ua:        ua,
		server:    srv,
		client:    client,
		registrar: registrar,
		listeners: make(map[string]listenerEntry),
		calls:     make(map[string]*handle),
	}

	srv.OnRequest(sip.INVITE, s.onInvite)
	srv.OnRequest(sip.ACK, s.onAck)
	srv.OnRequest(sip.BYE, s.onBye)
	srv.OnRequest(sip.CANCEL, s.onCancel)

	return s, nil
}

// Serve blocks until ctx is cancelled or the listener fails.
func (s *Stack) Serve(ctx context.Context) error {
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("SIP listener starting")
	if err := s.server.ListenAndServe(ctx, "udp", s.cfg.ListenAddr); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sip listener: %w", err)
	}
	return nil
}

func (s *Stack) Close() error {
	s.mu.Lock()
	calls := make([]*handle, 0, len(s.calls))
	for _, h := range s.calls {
		calls = append(calls, h)
	}
	s.mu.Unlock()

	for _, h := range calls {
		_ = h.End()
	}
	return s.ua.Close()
}

// NewTransport returns a room-scoped transport on this stack.
func (s *Stack) NewTransport() *Transport {
	return &Transport{stack: s}
}

// ActiveCalls reports the number of tracked dialogs.
func (s *Stack) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Stack) endpointFor(user string) endpoint {
	return endpoint{User: user, Host: s.cfg.AdvertiseHost, Port: s.cfg.Port}
}

// request sends req and waits for its final response.
func (s *Stack) request(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := s.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	defer tx.Terminate()

	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return nil, fmt.Errorf("%s: no response", req.Method)
			}
			if resp.StatusCode < 200 {
				continue
			}
			return resp, nil
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%s: transaction terminated", req.Method)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Stack) write(req *sip.Request) error {
	return s.client.WriteRequest(req)
}

// register binds local to the registrar. Expires 0 removes the binding.
func (s *Stack) register(ctx context.Context, local endpoint, password string, expires int) error {
	if s.registrar == nil {
		return nil
	}

	req := buildRegister(*s.registrar, local, s.cfg.Domain, newCallID(), newTag(), 1, expires)
	resp, err := s.request(ctx, req)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		resp, err = s.client.DoDigestAuth(ctx, req, resp, sipgo.DigestAuth{
			Username: local.User,
			Password: password,
		})
		if err != nil {
			return fmt.Errorf("register auth: %w", err)
		}
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("register rejected: %d %s", resp.StatusCode, resp.Reason)
	}

	log.Info().Str("identity", local.User).Int("expires", expires).Msg("SIP registration updated")
	return nil
}

func (s *Stack) dial(ctx context.Context, identity, target string, opts call.DialOptions) (call.CallHandle, error) {
	m, err := asRTP(opts.Media)
	if err != nil {
		return nil, err
	}
	to, err := targetURI(target, s.cfg.Domain)
	if err != nil {
		return nil, err
	}
	offer, err := m.Offer()
	if err != nil {
		return nil, fmt.Errorf("build sdp offer: %w", err)
	}
	m.SetVideo(opts.Video)

	local := s.endpointFor(identity)
	h := newHandle(s, newCallID(), true, local)
	h.media = m
	h.invite = buildInvite(local, s.cfg.Domain, to, h.id, h.localTag, offer)
	if s.registrar != nil {
		h.invite.SetDestination(fmt.Sprintf("%s:%d", s.registrar.Host, portOr(s.registrar.Port, 5060)))
	}

	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancelDial = cancel

	tx, err := s.client.TransactionRequest(dialCtx, h.invite)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("send INVITE: %w", err)
	}

	s.track(h)
	log.Info().Str("call_id", h.id).Str("target", to.String()).Msg("INVITE sent")

	go func() {
		defer cancel()
		h.run(dialCtx, tx)
	}()
	return h, nil
}

func portOr(port, fallback int) int {
	if port == 0 {
		return fallback
	}
	return port
}

func (s *Stack) addListener(identity, name string, l call.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.listeners[identity]; ok && existing.name != name {
		return fmt.Errorf("identity %q already has listener %q", identity, existing.name)
	}
	s.listeners[identity] = listenerEntry{name: name, listener: l}
	return nil
}

func (s *Stack) removeListener(identity, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.listeners[identity]
	if !ok || existing.name != name {
		return false
	}
	delete(s.listeners, identity)
	return true
}

func (s *Stack) listenerFor(identity string) (listenerEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listeners[identity]
	return l, ok
}

func (s *Stack) track(h *handle) {
	s.mu.Lock()
	s.calls[h.id] = h
	s.mu.Unlock()
}

func (s *Stack) forget(id string) {
	s.mu.Lock()
	delete(s.calls, id)
	s.mu.Unlock()
}

func (s *Stack) lookup(id string) (*handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.calls[id]
	return h, ok
}

func (s *Stack) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	id := callIDOf(req)
	if _, ok := s.lookup(id); ok {
		return
	}

	user := req.Recipient.User
	entry, ok := s.listenerFor(user)
	if !ok {
		log.Debug().Str("call_id", id).Str("user", user).Msg("INVITE for unknown identity")
		if err := tx.Respond(sip.NewResponseFromRequest(req, 404, "Not Found", nil)); err != nil {
			log.Debug().Err(err).Msg("failed to send 404")
		}
		return
	}

	h := newHandle(s, id, false, s.endpointFor(user))
	h.invite = req
	h.inviteTx = tx
	s.track(h)

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)); err != nil {
		log.Debug().Err(err).Str("call_id", id).Msg("failed to send 100")
	}
	if err := tx.Respond(respond(req, 180, "Ringing", nil, h.localTag)); err != nil {
		log.Debug().Err(err).Str("call_id", id).Msg("failed to send 180")
	}

	log.Info().Str("call_id", id).Str("user", user).Str("listener", entry.name).Msg("incoming call")
	go func() {
		if entry.listener.OnIncoming != nil {
			entry.listener.OnIncoming(h)
		}
	}()

	// Keep the server transaction alive until it is answered or abandoned.
	select {
	case <-tx.Done():
		h.mu.Lock()
		answered := h.answered
		h.mu.Unlock()
		if !answered {
			h.advance(statusEnded)
		}
	case <-h.done:
	}
}

func (s *Stack) onAck(req *sip.Request, tx sip.ServerTransaction) {
	if h, ok := s.lookup(callIDOf(req)); ok && !h.outbound {
		h.onAck()
	}
}

func (s *Stack) onBye(req *sip.Request, tx sip.ServerTransaction) {
	h, ok := s.lookup(callIDOf(req))
	if !ok {
		if err := tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)); err != nil {
			log.Debug().Err(err).Msg("failed to send 481")
		}
		return
	}

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		log.Debug().Err(err).Str("call_id", h.id).Msg("failed to answer BYE")
	}
	log.Info().Str("call_id", h.id).Msg("remote hangup")
	h.advance(statusEnded)
}

func (s *Stack) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	h, ok := s.lookup(callIDOf(req))
	if !ok || h.outbound {
		if err := tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)); err != nil {
			log.Debug().Err(err).Msg("failed to send 481")
		}
		return
	}

	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)); err != nil {
		log.Debug().Err(err).Str("call_id", h.id).Msg("failed to answer CANCEL")
	}
	if h.onRemoteCancel() {
		log.Info().Str("call_id", h.id).Msg("caller cancelled")
	}
}
