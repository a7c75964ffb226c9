// Package rtc holds the WebRTC settings handed to clients. Media itself flows
// peer-to-peer and never touches the server.
package rtc

import (
	"fmt"

	"github.com/dkeye/talkrooms/internal/config"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ICEServers validates the configured STUN/TURN entries and converts them to
// the shape browsers expect in RTCConfiguration.iceServers.
func ICEServers(cfg []config.ICEServer) ([]webrtc.ICEServer, error) {
	out := make([]webrtc.ICEServer, 0, len(cfg))
	for _, s := range cfg {
		if len(s.URLs) == 0 {
			return nil, fmt.Errorf("ice server without urls")
		}
		for _, raw := range s.URLs {
			if _, err := stun.ParseURI(raw); err != nil {
				return nil, fmt.Errorf("ice server %q: %w", raw, err)
			}
		}
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	log.Info().Str("module", "adapters.rtc").Int("servers", len(out)).Msg("ice servers configured")
	return out, nil
}
