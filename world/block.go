// Package world holds the in-memory chunk, block and entity models shared by
// the source readers, the converter and the Bedrock encoder.
package world

import (
	"sort"
	"strings"
)

// Tag is a decoded NBT compound.
type Tag = map[string]any

// Block is a Java block state: a namespaced name plus string properties.
type Block struct {
	Name       string
	Properties map[string]string
}

// Air is the Java air block.
var Air = Block{Name: "minecraft:air"}

// NewBlock builds a block from a name and alternating key/value property pairs.
func NewBlock(name string, kv ...string) Block {
	b := Block{Name: name}
	if len(kv) > 1 {
		b.Properties = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			b.Properties[kv[i]] = kv[i+1]
		}
	}
	return b
}

// IsAir reports whether the block is one of the air variants.
func (b Block) IsAir() bool {
	switch b.Name {
	case "minecraft:air", "minecraft:cave_air", "minecraft:void_air", "":
		return true
	}
	return false
}

// Prop returns a property value or "".
func (b Block) Prop(name string) string { return b.Properties[name] }

// With returns a copy of b with one property replaced.
func (b Block) With(name, value string) Block {
	props := make(map[string]string, len(b.Properties)+1)
	for k, v := range b.Properties {
		props[k] = v
	}
	props[name] = value
	return Block{Name: b.Name, Properties: props}
}

// Key is a canonical string form, name[k=v,...] with sorted keys.
func (b Block) Key() string {
	if len(b.Properties) == 0 {
		return b.Name
	}
	keys := make([]string, 0, len(b.Properties))
	for k := range b.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(b.Name)
	sb.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(b.Properties[k])
	}
	sb.WriteByte(']')
	return sb.String()
}

func (b Block) String() string { return b.Key() }

// BlockData is a Bedrock block state as stored in sub-chunk palettes.
type BlockData struct {
	Name    string
	States  map[string]any
	Version int32
}

// CurrentBlockVersion is the block state version written to palettes (1.20.80).
const CurrentBlockVersion int32 = 18100737

// BedrockAir is the Bedrock air block.
var BedrockAir = BlockData{Name: "minecraft:air", States: map[string]any{}, Version: CurrentBlockVersion}

// IsAir reports whether the block is air.
func (b BlockData) IsAir() bool { return b.Name == "minecraft:air" || b.Name == "" }

// Key is a canonical string form used to deduplicate palette entries.
func (b BlockData) Key() string {
	if len(b.States) == 0 {
		return b.Name
	}
	keys := make([]string, 0, len(b.States))
	for k := range b.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(b.Name)
	for _, k := range keys {
		sb.WriteByte(';')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(stateString(b.States[k]))
	}
	return sb.String()
}

// Tag returns the palette compound {name, states, version}.
func (b BlockData) Tag() Tag {
	states := b.States
	if states == nil {
		states = map[string]any{}
	}
	version := b.Version
	if version == 0 {
		version = CurrentBlockVersion
	}
	return Tag{"name": b.Name, "states": states, "version": version}
}
