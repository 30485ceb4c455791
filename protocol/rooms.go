package protocol

import "fmt"

// UserRoom names the broadcast room shared by every session the user owns.
func UserRoom(userID string) string {
	return "user:" + userID
}

// CampaignRoom names the broadcast room for all sessions joined to a campaign.
func CampaignRoom(campaignID string) string {
	return "campaign:" + campaignID
}

// OpName composes a command operation name, e.g. OpName("actor", "create")
// returns "actor:create".
func OpName(kind, action string) string {
	return fmt.Sprintf("%s:%s", kind, action)
}

// EventName composes a broadcast event name, e.g. EventName("actor",
// "created") returns "actor:created".
func EventName(kind, change string) string {
	return fmt.Sprintf("%s:%s", kind, change)
}

// Broadcast change suffixes.
const (
	ChangeCreated = "created"
	ChangeUpdated = "updated"
	ChangeDeleted = "deleted"
)
