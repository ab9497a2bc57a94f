package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/INLOpen/chunkbridge/convert"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/identity"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/INLOpen/chunkbridge/worlddata"
)

// localPlayerSeed names the player of a level.dat without a UUID.
var localPlayerSeed = []byte("chunkbridge:local_player")

// playerDimension reads Player.Dimension, which is a namespaced name since
// 1.16 and the legacy Java id before.
func playerDimension(p world.Tag) core.Dimension {
	if id, ok := world.Int(p, "Dimension"); ok {
		switch id {
		case -1:
			return core.Nether
		case 1:
			return core.End
		}
		return core.Overworld
	}
	if d, err := core.ParseDimension(world.String(p, "Dimension")); err == nil {
		return d
	}
	return core.Overworld
}

// convertPlayer converts the single-player compound of level.dat together
// with its vehicle and shoulder entities. It returns nil when the level has
// no player. Vehicle and shoulder entities that fail to convert are logged
// and dropped; the player itself is always kept.
func convertPlayer(level world.Tag, tables convert.Collaborators, reg *identity.Registrar, logger *slog.Logger) *worlddata.Player {
	src, ok := world.Compound(level, "Player")
	if !ok {
		return nil
	}
	dim := playerDimension(src)
	pos, _ := world.Doubles(src, "Pos")

	var id int64
	if u, ok := identity.FromTag(src); ok {
		id = reg.ToIDSeeded(u)
	} else {
		id = identity.GenWithSeed(localPlayerSeed)
	}
	tag := world.Tag{
		"identifier":  "minecraft:player",
		"UniqueID":    id,
		"Pos":         []any{float32(pos[0]), float32(pos[1]), float32(pos[2])},
		"DimensionId": int32(dim),
	}
	if rot := world.List(src, "Rotation"); len(rot) == 2 {
		tag["Rotation"] = rot
	}
	p := &worlddata.Player{Dimension: dim, Tag: tag}

	ctx := &convert.EntityContext{Dimension: dim, Chunk: core.ChunkAt(pos[0], pos[2]), Registrar: reg}
	if rv, ok := world.Compound(src, "RootVehicle"); ok {
		if ent, ok := world.Compound(rv, "Entity"); ok {
			res, err := convert.SafeConvertEntity(tables, ent, ctx)
			if err != nil {
				logger.Warn("Dropping player vehicle", "error", err)
			}
			if len(res.Entities) > 0 {
				p.Vehicle = res.Entities[0]
				p.Riders = append(p.Riders, res.Entities[1:]...)
				links := world.List(p.Vehicle.Tag, "LinksTag")
				p.Vehicle.Tag["LinksTag"] = append(links, world.Tag{"entityID": id, "LinkID": int32(len(links))})
			}
		}
	}
	for _, side := range []string{"ShoulderEntityLeft", "ShoulderEntityRight"} {
		ent, ok := world.Compound(src, side)
		if !ok || len(ent) == 0 {
			continue
		}
		ent = world.Clone(ent)
		if _, ok := world.Doubles(ent, "Pos"); !ok {
			ent["Pos"] = []any{pos[0], pos[1], pos[2]}
		}
		res, err := convert.SafeConvertEntity(tables, ent, ctx)
		if err != nil {
			logger.Warn("Dropping shoulder entity", "side", side, "error", err)
			continue
		}
		p.Riders = append(p.Riders, res.Entities...)
	}
	for _, e := range p.Entities() {
		e.Chunk = e.OwningChunk()
	}
	return p
}

func describePlayer(p *worlddata.Player) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%s %v riders=%d vehicle=%t", p.Dimension, p.Tag["Pos"], len(p.Riders), p.Vehicle != nil)
}
