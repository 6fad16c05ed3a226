package media

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"
)

// PayloadPCMU is the static RTP payload type for G.711 µ-law.
const PayloadPCMU = 0

// Endpoint is the remote RTP address negotiated through SDP.
type Endpoint struct {
	Host    string
	Port    int
	Formats []string
}

// BuildSDP describes an audio-only PCMU session at host:port.
func BuildSDP(sessionID uint64, host string, port int) ([]byte, error) {
	formats := []string{strconv.Itoa(PayloadPCMU)}
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "room-server",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "Consultation Room",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "0 PCMU/8000"},
					{Key: "ptime", Value: "20"},
					{Key: "sendrecv"},
				},
			},
		},
	}
	return desc.Marshal()
}

// ParseSDP extracts the first audio endpoint from a remote description.
func ParseSDP(body []byte) (Endpoint, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return Endpoint{}, fmt.Errorf("parse sdp: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		ep := Endpoint{
			Port:    md.MediaName.Port.Value,
			Formats: md.MediaName.Formats,
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			ep.Host = md.ConnectionInformation.Address.Address
		} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
			ep.Host = desc.ConnectionInformation.Address.Address
		}
		if ep.Host == "" || ep.Port == 0 {
			return Endpoint{}, fmt.Errorf("sdp audio media has no usable address")
		}
		if !ep.supportsPCMU() {
			return Endpoint{}, fmt.Errorf("sdp offers no PCMU format: %v", ep.Formats)
		}
		return ep, nil
	}
	return Endpoint{}, fmt.Errorf("sdp has no audio media")
}

func (e Endpoint) supportsPCMU() bool {
	want := strconv.Itoa(PayloadPCMU)
	for _, f := range e.Formats {
		if f == want {
			return true
		}
	}
	return false
}
