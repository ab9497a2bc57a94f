package bedrock

import (
	"fmt"

	"github.com/INLOpen/chunkbridge/core"
)

// PortalRecord is one entry of the portal table.
type PortalRecord struct {
	Dimension core.Dimension
	Pos       core.BlockPos
	// AxisX is true for portals that span the x axis.
	AxisX bool
	Span  int32
}

// EncodePortals serializes the portal table stored under KeyPortals.
func EncodePortals(records []PortalRecord) (Record, error) {
	list := make([]any, 0, len(records))
	for _, p := range records {
		var xa, za uint8
		if p.AxisX {
			xa = 1
		} else {
			za = 1
		}
		list = append(list, map[string]any{
			"DimId": int32(p.Dimension),
			"Span":  uint8(p.Span),
			"TpX":   p.Pos.X,
			"TpY":   p.Pos.Y,
			"TpZ":   p.Pos.Z,
			"Xa":    xa,
			"Za":    za,
		})
	}
	v, err := Marshal(map[string]any{"data": map[string]any{"PortalRecords": list}})
	if err != nil {
		return Record{}, fmt.Errorf("portal table: %w", err)
	}
	return Record{Key: []byte(KeyPortals), Value: v}, nil
}

// DecodePortals reads a portal table back.
func DecodePortals(v []byte) ([]PortalRecord, error) {
	t, err := Unmarshal(v)
	if err != nil {
		return nil, err
	}
	data, _ := t["data"].(map[string]any)
	raw, _ := data["PortalRecords"].([]any)
	out := make([]PortalRecord, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		p := PortalRecord{
			Dimension: core.Dimension(asInt32(m["DimId"])),
			Pos:       core.BlockPos{X: asInt32(m["TpX"]), Y: asInt32(m["TpY"]), Z: asInt32(m["TpZ"])},
			Span:      asInt32(m["Span"]),
			AxisX:     asInt32(m["Xa"]) == 1,
		}
		out = append(out, p)
	}
	return out, nil
}

func asInt32(v any) int32 {
	switch x := v.(type) {
	case int32:
		return x
	case uint8:
		return int32(x)
	case int16:
		return int32(x)
	case int64:
		return int32(x)
	}
	return 0
}
