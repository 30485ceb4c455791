package protocol

import (
	"time"
)

// Entity kinds shipped with the core. Game-rule packs may register further
// kinds; the sync layer treats all kinds identically.
const (
	KindActor = "actor"
	KindItem  = "item"
)

// Entity is one persisted tabletop object: an actor, an item, or any
// structurally identical kind. Data holds the kind-specific payload, which is
// opaque to the sync layer (its schema belongs to the game system).
type Entity struct {
	ID           string         `json:"id" msgpack:"id"`
	Name         string         `json:"name" msgpack:"name"`
	Type         string         `json:"type" msgpack:"type"`
	Img          string         `json:"img,omitempty" msgpack:"img,omitempty"`
	Description  string         `json:"description,omitempty" msgpack:"description,omitempty"`
	GameSystemID string         `json:"gameSystemId,omitempty" msgpack:"gameSystemId,omitempty"`
	CampaignID   string         `json:"campaignId,omitempty" msgpack:"campaignId,omitempty"`
	Data         map[string]any `json:"data,omitempty" msgpack:"data,omitempty"`
	CreatedBy    string         `json:"createdBy" msgpack:"createdBy"`
	UpdatedBy    string         `json:"updatedBy" msgpack:"updatedBy"`
	CreatedAt    time.Time      `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt" msgpack:"updatedAt"`
}

// Clone returns a deep copy so callers can hand entities across goroutines
// without sharing the Data map.
func (e Entity) Clone() Entity {
	clone := e
	if e.Data != nil {
		clone.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			clone.Data[k] = v
		}
	}
	return clone
}

// CreateParams is the client-supplied payload for <kind>:create. Note there is
// no owner field: ownership always comes from the authenticated caller.
type CreateParams struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Img          string         `json:"img,omitempty"`
	Description  string         `json:"description,omitempty"`
	GameSystemID string         `json:"gameSystemId,omitempty"`
	CampaignID   string         `json:"campaignId,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Validate reports the first schema violation as an INVALID_ARGS error.
func (p CreateParams) Validate() error {
	if p.Name == "" {
		return Errorf(KindInvalidArgs, "name is required")
	}
	if p.Type == "" {
		return Errorf(KindInvalidArgs, "type is required")
	}
	return nil
}

// Patch is a partial update for <kind>:update. Nil fields are left unchanged.
type Patch struct {
	Name         *string         `json:"name,omitempty"`
	Type         *string         `json:"type,omitempty"`
	Img          *string         `json:"img,omitempty"`
	Description  *string         `json:"description,omitempty"`
	GameSystemID *string         `json:"gameSystemId,omitempty"`
	CampaignID   *string         `json:"campaignId,omitempty"`
	Data         *map[string]any `json:"data,omitempty"`
}

// Validate rejects patches that would blank required fields.
func (p Patch) Validate() error {
	if p.Name != nil && *p.Name == "" {
		return Errorf(KindInvalidArgs, "name cannot be empty")
	}
	if p.Type != nil && *p.Type == "" {
		return Errorf(KindInvalidArgs, "type cannot be empty")
	}
	return nil
}

// Apply copies the patch's set fields onto e.
func (p Patch) Apply(e *Entity) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Img != nil {
		e.Img = *p.Img
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.GameSystemID != nil {
		e.GameSystemID = *p.GameSystemID
	}
	if p.CampaignID != nil {
		e.CampaignID = *p.CampaignID
	}
	if p.Data != nil {
		e.Data = *p.Data
	}
}

// IDArgs is the argument shape for <kind>:get and <kind>:delete.
type IDArgs struct {
	ID string `json:"id"`
}

func (a IDArgs) Validate() error {
	if a.ID == "" {
		return Errorf(KindInvalidArgs, "id is required")
	}
	return nil
}

// UpdateArgs is the argument shape for <kind>:update.
type UpdateArgs struct {
	ID    string `json:"id"`
	Patch Patch  `json:"patch"`
}

func (a UpdateArgs) Validate() error {
	if a.ID == "" {
		return Errorf(KindInvalidArgs, "id is required")
	}
	return a.Patch.Validate()
}
