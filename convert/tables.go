package convert

import (
	"strings"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
)

// Tables is the built-in Collaborators implementation. It covers the blocks
// and entities the converter itself reasons about and passes everything else
// through under its Java name.
type Tables struct {
	// Renames maps Java block names to Bedrock names where they differ.
	Renames map[string]string
	// Autonomous lists entity identifiers tracked outside any chunk.
	Autonomous map[string]bool
}

// DefaultTables returns the built-in mapping tables.
func DefaultTables() *Tables {
	return &Tables{
		Renames: map[string]string{
			"minecraft:cave_air":         "minecraft:air",
			"minecraft:void_air":         "minecraft:air",
			"minecraft:snow_block":       "minecraft:snow",
			"minecraft:snow":             "minecraft:snow_layer",
			"minecraft:jack_o_lantern":   "minecraft:lit_pumpkin",
			"minecraft:spawner":          "minecraft:mob_spawner",
			"minecraft:magma_block":      "minecraft:magma",
			"minecraft:dirt_path":        "minecraft:grass_path",
			"minecraft:terracotta":       "minecraft:hardened_clay",
			"minecraft:end_stone_bricks": "minecraft:end_bricks",
		},
		Autonomous: map[string]bool{
			"minecraft:ender_dragon": true,
		},
	}
}

var facingDirection = map[string]int32{
	"down": 0, "up": 1, "north": 2, "south": 3, "west": 4, "east": 5,
}

// ConvertBlock implements Collaborators.
func (t *Tables) ConvertBlock(b world.Block) world.BlockData {
	switch b.Name {
	case "minecraft:air", "minecraft:cave_air", "minecraft:void_air":
		return world.BedrockAir
	case "minecraft:chest", "minecraft:trapped_chest", "minecraft:ender_chest":
		return world.BlockData{
			Name:    b.Name,
			States:  map[string]any{"minecraft:cardinal_direction": cardinal(b.Prop("facing"))},
			Version: world.CurrentBlockVersion,
		}
	case "minecraft:piston", "minecraft:sticky_piston":
		return world.BlockData{
			Name:    b.Name,
			States:  map[string]any{"facing_direction": facingDirection[b.Prop("facing")]},
			Version: world.CurrentBlockVersion,
		}
	case PistonArmPlaceholder:
		name := "minecraft:piston_arm_collision"
		if b.Prop("type") == "sticky" {
			name = "minecraft:sticky_piston_arm_collision"
		}
		return world.BlockData{
			Name:    name,
			States:  map[string]any{"facing_direction": facingDirection[b.Prop("facing")]},
			Version: world.CurrentBlockVersion,
		}
	case MovingBlockPlaceholder:
		return world.BlockData{Name: "minecraft:moving_block", States: map[string]any{}, Version: world.CurrentBlockVersion}
	case "minecraft:nether_portal":
		return world.BlockData{
			Name:    "minecraft:portal",
			States:  map[string]any{"portal_axis": b.Prop("axis")},
			Version: world.CurrentBlockVersion,
		}
	}
	out := IdentityBlock(b)
	if name, ok := t.Renames[b.Name]; ok {
		out.Name = name
	}
	return out
}

func cardinal(facing string) string {
	if facing == "" {
		return "north"
	}
	return facing
}

// HasTileEntity implements Collaborators.
func (t *Tables) HasTileEntity(b world.Block) bool {
	switch b.Name {
	case "minecraft:chest", "minecraft:trapped_chest",
		"minecraft:piston", "minecraft:sticky_piston",
		MovingBlockPlaceholder:
		return true
	}
	return false
}

// ConvertTileEntity implements Collaborators.
func (t *Tables) ConvertTileEntity(pos core.BlockPos, b world.Block, tag world.Tag, ctx *TileContext) TileResult {
	switch b.Name {
	case "minecraft:chest", "minecraft:trapped_chest":
		out := tileBase("Chest", pos)
		out["Findable"] = uint8(0)
		if items := ConvertItems(world.List(tag, "Items")); items != nil {
			out["Items"] = items
		}
		copyCustomName(out, tag)
		return TileResult{Tag: out}
	case "minecraft:piston", "minecraft:sticky_piston":
		return TileResult{Tag: pistonArmTile(pos, b)}
	case MovingBlockPlaceholder:
		return TileResult{Tag: t.movingBlockTile(pos, b, tag)}
	}
	if tag == nil {
		return TileResult{}
	}
	out := world.Clone(tag)
	out["id"] = bedrockTileID(world.String(tag, "id"))
	out["x"], out["y"], out["z"] = pos.X, pos.Y, pos.Z
	out["isMovable"] = uint8(1)
	delete(out, "keepPacked")
	if items := world.List(tag, "Items"); items != nil {
		out["Items"] = ConvertItems(items)
	}
	return TileResult{Tag: out}
}

func tileBase(id string, pos core.BlockPos) world.Tag {
	return world.Tag{"id": id, "x": pos.X, "y": pos.Y, "z": pos.Z, "isMovable": uint8(1)}
}

func copyCustomName(dst, src world.Tag) {
	if name := world.String(src, "CustomName"); name != "" {
		dst["CustomName"] = name
	}
}

func pistonArmTile(pos core.BlockPos, b world.Block) world.Tag {
	out := tileBase("PistonArm", pos)
	var state uint8
	var progress float32
	if b.Prop("extended") == "true" {
		state, progress = 2, 1
	}
	out["State"], out["NewState"] = state, state
	out["Progress"], out["LastProgress"] = progress, progress
	out["Sticky"] = uint8(0)
	if b.Name == "minecraft:sticky_piston" {
		out["Sticky"] = uint8(1)
	}
	out["AttachedBlocks"] = []any{}
	out["BreakBlocks"] = []any{}
	return out
}

// movingBlockTile describes the block a piston is pushing. The pushing
// piston sits one block behind the moving block, against its facing.
func (t *Tables) movingBlockTile(pos core.BlockPos, b world.Block, src world.Tag) world.Tag {
	out := tileBase("MovingBlock", pos)
	moving := world.BedrockAir
	if state, ok := world.Compound(src, "blockState"); ok {
		moving = t.ConvertBlock(blockFromState(state))
	}
	out["movingBlock"] = moving.Tag()
	out["movingBlockExtra"] = world.BedrockAir.Tag()
	piston := pos
	if d, ok := facingOffset(b.Prop("facing")); ok {
		piston = pos.Add(-d.X, -d.Y, -d.Z)
	}
	out["pistonPosX"], out["pistonPosY"], out["pistonPosZ"] = piston.X, piston.Y, piston.Z
	return out
}

func blockFromState(state world.Tag) world.Block {
	b := world.Block{Name: world.String(state, "Name")}
	if props, ok := world.Compound(state, "Properties"); ok {
		b.Properties = make(map[string]string, len(props))
		for k, v := range props {
			if s, ok := v.(string); ok {
				b.Properties[k] = s
			}
		}
	}
	return b
}

func facingOffset(facing string) (core.BlockPos, bool) {
	switch facing {
	case "down":
		return core.BlockPos{Y: -1}, true
	case "up":
		return core.BlockPos{Y: 1}, true
	case "north":
		return core.BlockPos{Z: -1}, true
	case "south":
		return core.BlockPos{Z: 1}, true
	case "west":
		return core.BlockPos{X: -1}, true
	case "east":
		return core.BlockPos{X: 1}, true
	}
	return core.BlockPos{}, false
}

// bedrockTileID turns "minecraft:brewing_stand" into "BrewingStand".
func bedrockTileID(id string) string {
	id = strings.TrimPrefix(id, "minecraft:")
	parts := strings.Split(id, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}

// ConvertItems converts a Java item list. It returns nil for a nil list.
func ConvertItems(items []any) []any {
	if items == nil {
		return nil
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		src, ok := it.(map[string]any)
		if !ok {
			continue
		}
		count, ok := world.Int(src, "Count")
		if !ok {
			// 1.20.5+ item stacks use "count" and omit it for a single item.
			if count, ok = world.Int(src, "count"); !ok {
				count = 1
			}
		}
		slot, _ := world.Int(src, "Slot")
		item := world.Tag{
			"Name":        world.String(src, "id"),
			"Count":       uint8(count),
			"Slot":        uint8(slot),
			"Damage":      int16(0),
			"WasPickedUp": uint8(0),
		}
		out = append(out, item)
	}
	return out
}
