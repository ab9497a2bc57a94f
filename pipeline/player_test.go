package pipeline

import (
	"io"
	"log/slog"
	"testing"

	"github.com/INLOpen/chunkbridge/convert"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/identity"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/INLOpen/chunkbridge/worlddata"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenEntities panics on one entity id.
type brokenEntities struct {
	*convert.Tables
}

func (b brokenEntities) ConvertEntity(tag world.Tag, ctx *convert.EntityContext) convert.EntityResult {
	if world.String(tag, "id") == "test:explode" {
		panic("no mapping")
	}
	return b.Tables.ConvertEntity(tag, ctx)
}

func TestConvertPlayer_BrokenPassengersAreDropped(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	level := world.Tag{
		"Player": map[string]any{
			"Dimension": "minecraft:overworld",
			"Pos":       []any{8.5, 64.0, 8.5},
			"UUID":      uuidInts(uuid.New()),
			"RootVehicle": map[string]any{
				"Entity": entityTag("test:explode", 8.5, 64.0, 8.5, uuid.New()),
			},
			"ShoulderEntityLeft":  map[string]any{"id": "test:explode", "UUID": uuidInts(uuid.New())},
			"ShoulderEntityRight": map[string]any{"id": "minecraft:parrot", "UUID": uuidInts(uuid.New())},
		},
	}

	var p *worlddata.Player
	require.NotPanics(t, func() {
		p = convertPlayer(level, brokenEntities{convert.DefaultTables()}, identity.NewRegistrar(), logger)
	})
	require.NotNil(t, p)
	assert.Nil(t, p.Vehicle)
	require.Len(t, p.Riders, 1)
	assert.Equal(t, "minecraft:parrot", p.Riders[0].Identifier)
	assert.Equal(t, core.ChunkPos{}, p.Riders[0].Chunk)
	assert.Equal(t, core.Overworld, p.Dimension)
}

func TestConvertPlayer_NoPlayer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assert.Nil(t, convertPlayer(world.Tag{"LevelName": "x"}, convert.DefaultTables(), identity.NewRegistrar(), logger))
}
