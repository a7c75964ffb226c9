package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/talkrooms/internal/core"
	"github.com/dkeye/talkrooms/internal/domain"
)

func (ctl *SignalWSController) handleAuth(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p struct {
		Token   string              `json:"token"`
		Profile domain.ProfileHints `json:"profile"`
	}
	if err := decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.Authenticate(ctx, sid, p.Token, p.Profile)
}
