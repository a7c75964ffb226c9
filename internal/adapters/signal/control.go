package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/talkrooms/internal/app/orch"
	"github.com/dkeye/talkrooms/internal/core"
)

func (ctl *SignalWSController) handlePing(_ context.Context, sid core.SessionID, _ json.RawMessage) error {
	return ctl.Orch.Relay.ToSession(sid, orch.EvPong, nil)
}
