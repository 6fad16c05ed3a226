package siptransport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// endpoint is the local SIP identity a request is sent from.
type endpoint struct {
	User string
	Host string
	Port int
}

func (e endpoint) contactURI() sip.Uri {
	return sip.Uri{Scheme: "sip", User: e.User, Host: e.Host, Port: e.Port}
}

// targetURI resolves a dial target to a SIP URI. Bare identities are placed
// in domain.
func targetURI(target, domain string) (sip.Uri, error) {
	raw := target
	if !strings.HasPrefix(target, "sip:") && !strings.HasPrefix(target, "sips:") {
		raw = fmt.Sprintf("sip:%s@%s", target, domain)
	}

	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	return uri, nil
}

func newCallID() string {
	return uuid.New().String()
}

func newTag() string {
	return uuid.New().String()[:8]
}

func callIDOf(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return string(*h)
	}
	return ""
}

func buildInvite(local endpoint, domain string, to sip.Uri, callID, tag string, body []byte) *sip.Request {
	invite := sip.NewRequest(sip.INVITE, to)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", tag)
	invite.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: local.User, Host: domain},
		Params:  fromParams,
	})
	invite.AppendHeader(&sip.ToHeader{
		Address: to,
		Params:  sip.NewParams(),
	})

	callIDHdr := sip.CallIDHeader(callID)
	invite.AppendHeader(&callIDHdr)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: local.contactURI()})

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(body)
	return invite
}

// buildAck acknowledges a 2xx to invite. The Request-URI is the remote
// target from the response Contact.
func buildAck(invite *sip.Request, resp *sip.Response) *sip.Request {
	recipient := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		recipient = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, recipient)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	if src := resp.Source(); src != "" {
		ack.SetDestination(src)
	}
	return ack
}

func buildCancel(invite *sip.Request) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancel)
	sip.CopyHeaders("From", invite, cancel)
	sip.CopyHeaders("To", invite, cancel)
	sip.CopyHeaders("Call-ID", invite, cancel)
	if cseq := invite.CSeq(); cseq != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)
	if dest := invite.Destination(); dest != "" {
		cancel.SetDestination(dest)
	}
	return cancel
}

// buildBye ends a confirmed dialog. For outbound calls From/To follow our
// INVITE and the 200 OK; for inbound calls they are swapped.
func buildBye(outbound bool, invite *sip.Request, resp *sip.Response, local endpoint, seq uint32) (*sip.Request, error) {
	if invite == nil || resp == nil {
		return nil, fmt.Errorf("dialog is not confirmed")
	}

	var recipient sip.Uri
	if outbound {
		if contact := resp.Contact(); contact != nil {
			recipient = contact.Address
		} else if to := invite.To(); to != nil {
			recipient = to.Address
		}
	} else {
		if contact := invite.Contact(); contact != nil {
			recipient = contact.Address
			recipient.UriParams = sip.NewParams()
		} else if from := invite.From(); from != nil {
			recipient = from.Address
		}
	}

	bye := sip.NewRequest(sip.BYE, recipient)

	if outbound {
		if from := invite.From(); from != nil {
			bye.AppendHeader(&sip.FromHeader{
				DisplayName: from.DisplayName,
				Address:     from.Address,
				Params:      from.Params.Clone(),
			})
		}
		if to := resp.To(); to != nil {
			bye.AppendHeader(&sip.ToHeader{
				DisplayName: to.DisplayName,
				Address:     to.Address,
				Params:      to.Params.Clone(),
			})
		}
	} else {
		if to := resp.To(); to != nil {
			bye.AppendHeader(&sip.FromHeader{
				DisplayName: to.DisplayName,
				Address:     to.Address,
				Params:      to.Params.Clone(),
			})
		}
		if from := invite.From(); from != nil {
			bye.AppendHeader(&sip.ToHeader{
				DisplayName: from.DisplayName,
				Address:     from.Address,
				Params:      from.Params.Clone(),
			})
		}
	}

	sip.CopyHeaders("Call-ID", invite, bye)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	bye.AppendHeader(&sip.ContactHeader{Address: local.contactURI()})

	if !outbound {
		if src := invite.Source(); src != "" {
			bye.SetDestination(src)
		}
	}
	return bye, nil
}

func buildRegister(registrar sip.Uri, local endpoint, domain, callID, tag string, seq uint32, expires int) *sip.Request {
	req := sip.NewRequest(sip.REGISTER, registrar)

	aor := sip.Uri{Scheme: "sip", User: local.User, Host: domain}
	fromParams := sip.NewParams()
	fromParams.Add("tag", tag)
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: fromParams})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})

	callIDHdr := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHdr)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.REGISTER})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(&sip.ContactHeader{Address: local.contactURI()})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(expires)))
	return req
}

// respond builds a response to req that carries localTag on To when the
// UAS side has not tagged it yet.
func respond(req *sip.Request, code sip.StatusCode, reason string, body []byte, localTag string) *sip.Response {
	resp := sip.NewResponseFromRequest(req, code, reason, body)
	if code > sip.StatusTrying {
		if to := resp.To(); to != nil {
			if to.Params == nil {
				to.Params = sip.NewParams()
			}
			if _, ok := to.Params.Get("tag"); !ok {
				to.Params.Add("tag", localTag)
			}
		}
	}
	return resp
}
