package webrtc

import "github.com/pion/webrtc/v3"

const (
	channelLabel    = "data"
	channelProtocol = "file-transfer"

	// Send blocks above highWaterMark buffered bytes and resumes below lowWaterMark.
	highWaterMark = 2 * 1024 * 1024
	lowWaterMark  = 512 * 1024
)

var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

func ICEConfiguration(stunServers []string) webrtc.Configuration {
	config := webrtc.Configuration{
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return config
}

// DataChannelInit configures an ordered channel with unlimited retransmits.
func DataChannelInit() *webrtc.DataChannelInit {
	protocolName := channelProtocol
	ordered := true
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: nil,
		Protocol:       &protocolName,
	}
}
