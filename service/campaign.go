package service

import (
	"context"
	"encoding/json"

	"github.com/tabletopforge/realtime/command"
	"github.com/tabletopforge/realtime/logger"
	"github.com/tabletopforge/realtime/protocol"
	"github.com/tabletopforge/realtime/session"
)

// CampaignArgs is the argument shape for campaign:join and campaign:leave.
type CampaignArgs struct {
	CampaignID string `json:"campaignId"`
}

func (a CampaignArgs) Validate() error {
	if a.CampaignID == "" {
		return protocol.Errorf(protocol.KindInvalidArgs, "campaignId is required")
	}
	return nil
}

// RegisterCampaignOps binds the room-membership operations. Joining a
// campaign room subscribes the session to that campaign's broadcasts; it
// does not replay anything missed, so clients refetch after joining.
func RegisterCampaignOps(reg *command.Registry, log logger.Logger) {
	log = log.WithPrefix("[campaign]")

	reg.Register("campaign:join", func(_ context.Context, sess *session.Session, args json.RawMessage) (any, error) {
		parsed, err := command.Decode[CampaignArgs](args)
		if err != nil {
			return nil, err
		}
		sess.Join(protocol.CampaignRoom(parsed.CampaignID))
		log.Debug("session %s joined campaign %s", sess.ID, parsed.CampaignID)
		return nil, nil
	})

	reg.Register("campaign:leave", func(_ context.Context, sess *session.Session, args json.RawMessage) (any, error) {
		parsed, err := command.Decode[CampaignArgs](args)
		if err != nil {
			return nil, err
		}
		sess.Leave(protocol.CampaignRoom(parsed.CampaignID))
		log.Debug("session %s left campaign %s", sess.ID, parsed.CampaignID)
		return nil, nil
	})
}
