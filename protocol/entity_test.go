package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strptr(s string) *string { return &s }

func TestCreateParamsValidate(t *testing.T) {
	assert.NoError(t, CreateParams{Name: "Mira", Type: "character"}.Validate())
	assert.Equal(t, KindInvalidArgs, KindOf(CreateParams{Type: "character"}.Validate()))
	assert.Equal(t, KindInvalidArgs, KindOf(CreateParams{Name: "Mira"}.Validate()))
}

func TestPatchValidate(t *testing.T) {
	assert.NoError(t, Patch{}.Validate())
	assert.NoError(t, Patch{Name: strptr("Mira")}.Validate())
	assert.Equal(t, KindInvalidArgs, KindOf(Patch{Name: strptr("")}.Validate()))
	assert.Equal(t, KindInvalidArgs, KindOf(Patch{Type: strptr("")}.Validate()))
}

func TestPatchApply(t *testing.T) {
	e := Entity{ID: "a1", Name: "Mira", Type: "character", Description: "scout"}
	data := map[string]any{"hp": 12}
	Patch{Name: strptr("Mira the Bold"), Data: &data}.Apply(&e)

	assert.Equal(t, "Mira the Bold", e.Name)
	assert.Equal(t, "character", e.Type)
	assert.Equal(t, "scout", e.Description)
	assert.Equal(t, data, e.Data)
}

func TestEntityClone(t *testing.T) {
	e := Entity{ID: "a1", Data: map[string]any{"hp": 12}}
	clone := e.Clone()
	clone.Data["hp"] = 1
	assert.Equal(t, 12, e.Data["hp"])
}

func TestUpdateArgsValidate(t *testing.T) {
	assert.Equal(t, KindInvalidArgs, KindOf(UpdateArgs{}.Validate()))
	assert.NoError(t, UpdateArgs{ID: "a1"}.Validate())
}

func TestNames(t *testing.T) {
	assert.Equal(t, "user:u1", UserRoom("u1"))
	assert.Equal(t, "campaign:c1", CampaignRoom("c1"))
	assert.Equal(t, "actor:create", OpName(KindActor, "create"))
	assert.Equal(t, "item:deleted", EventName(KindItem, ChangeDeleted))
}
