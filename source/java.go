package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/world"
	"github.com/Tnze/go-mc/nbt"
	"github.com/Tnze/go-mc/save/region"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Anvil chunk compression schemes.
const (
	compressionGzip = 1
	compressionZlib = 2
	compressionNone = 3
	compressionLZ4  = 4
	// compressionExternal flags a chunk stored in its own c.x.z.mcc file.
	compressionExternal = 0x80
)

// JavaWorld reads a Java Edition save directory.
type JavaWorld struct {
	dir    string
	logger *slog.Logger
}

// OpenJava checks that dir looks like a Java save and returns a reader.
func OpenJava(dir string, logger *slog.Logger) (*JavaWorld, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(filepath.Join(dir, "level.dat")); err != nil {
		return nil, fmt.Errorf("not a Java world: %w", err)
	}
	return &JavaWorld{dir: dir, logger: logger.With("component", "java_source")}, nil
}

// Dir is the save directory.
func (w *JavaWorld) Dir() string { return w.dir }

func (w *JavaWorld) dimensionDir(dim core.Dimension) string {
	switch dim {
	case core.Nether:
		return filepath.Join(w.dir, "DIM-1")
	case core.End:
		return filepath.Join(w.dir, "DIM1")
	default:
		return w.dir
	}
}

// LevelData decodes the gzip-compressed level.dat and returns its Data compound.
func (w *JavaWorld) LevelData() (world.Tag, error) {
	raw, err := os.ReadFile(filepath.Join(w.dir, "level.dat"))
	if err != nil {
		return nil, err
	}
	data, err := inflate(compressionGzip, raw)
	if err != nil {
		return nil, fmt.Errorf("level.dat: %w", err)
	}
	var root map[string]any
	if err := nbt.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("level.dat: %w", err)
	}
	d, ok := world.Compound(root, "Data")
	if !ok {
		return nil, errors.New("level.dat: missing Data compound")
	}
	return d, nil
}

// Regions lists r.x.z.mca files in the dimension's region directory.
func (w *JavaWorld) Regions(dim core.Dimension) ([]core.RegionPos, error) {
	entries, err := os.ReadDir(filepath.Join(w.dimensionDir(dim), "region"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []core.RegionPos
	for _, e := range entries {
		if pos, ok := parseRegionName(e.Name()); ok && !e.IsDir() {
			out = append(out, pos)
		}
	}
	return out, nil
}

func parseRegionName(name string) (core.RegionPos, bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 4 || parts[0] != "r" || parts[3] != "mca" {
		return core.RegionPos{}, false
	}
	x, errX := strconv.ParseInt(parts[1], 10, 32)
	z, errZ := strconv.ParseInt(parts[2], 10, 32)
	if errX != nil || errZ != nil {
		return core.RegionPos{}, false
	}
	return core.RegionPos{X: int32(x), Z: int32(z)}, true
}

// RegionFileName is the file name of a region.
func RegionFileName(pos core.RegionPos) string { return fmt.Sprintf("r.%d.%d.mca", pos.X, pos.Z) }

// OpenRegion opens the terrain region file and, when present, the matching
// 1.17+ entity region file.
func (w *JavaWorld) OpenRegion(dim core.Dimension, pos core.RegionPos) (Region, error) {
	base := w.dimensionDir(dim)
	r, err := region.Open(filepath.Join(base, "region", RegionFileName(pos)))
	if err != nil {
		return nil, fmt.Errorf("open region %s: %w", pos, err)
	}
	jr := &javaRegion{pos: pos, dir: filepath.Join(base, "region"), terrain: r, logger: w.logger}
	if er, err := region.Open(filepath.Join(base, "entities", RegionFileName(pos))); err == nil {
		jr.entities = er
	} else if !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("Entity region unreadable, entities stored there are skipped", "region", pos.String(), "dimension", dim.String(), "error", err)
	}
	return jr, nil
}

func (w *JavaWorld) Close() error { return nil }

type javaRegion struct {
	pos      core.RegionPos
	dir      string
	terrain  *region.Region
	entities *region.Region
	logger   *slog.Logger
}

func (r *javaRegion) Chunks() []core.ChunkPos {
	var out []core.ChunkPos
	for lz := 0; lz < 32; lz++ {
		for lx := 0; lx < 32; lx++ {
			if r.terrain.ExistSector(lx, lz) {
				out = append(out, r.pos.Chunk(lx, lz))
			}
		}
	}
	return out
}

func (r *javaRegion) ReadChunk(pos core.ChunkPos) (*world.Chunk, error) {
	lx, lz := int(pos.X&31), int(pos.Z&31)
	root, err := r.readCompound(r.terrain, pos, lx, lz)
	if err != nil {
		return nil, err
	}
	c, err := DecodeChunk(pos, root)
	if err != nil {
		return nil, err
	}
	if r.entities != nil && r.entities.ExistSector(lx, lz) {
		ents, err := r.readCompound(r.entities, pos, lx, lz)
		if err != nil {
			return nil, err
		}
		for _, raw := range world.List(ents, "Entities") {
			if t, ok := raw.(map[string]any); ok {
				c.Entities = append(c.Entities, t)
			}
		}
	}
	return c, nil
}

func (r *javaRegion) readCompound(f *region.Region, pos core.ChunkPos, lx, lz int) (world.Tag, error) {
	sector, err := f.ReadSector(lx, lz)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorruptChunk, pos, err)
	}
	if len(sector) < 1 {
		return nil, fmt.Errorf("%w: chunk %s: empty sector", ErrCorruptChunk, pos)
	}
	scheme, payload := sector[0], sector[1:]
	if scheme&compressionExternal != 0 {
		scheme &^= compressionExternal
		payload, err = os.ReadFile(filepath.Join(r.dir, fmt.Sprintf("c.%d.%d.mcc", pos.X, pos.Z)))
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %s: external chunk: %v", ErrCorruptChunk, pos, err)
		}
	}
	data, err := inflate(scheme, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorruptChunk, pos, err)
	}
	var root map[string]any
	if err := nbt.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorruptChunk, pos, err)
	}
	return root, nil
}

func (r *javaRegion) Close() error {
	err := r.terrain.Close()
	if r.entities != nil {
		err = errors.Join(err, r.entities.Close())
	}
	return err
}

func inflate(scheme byte, payload []byte) ([]byte, error) {
	var rd io.ReadCloser
	var err error
	switch scheme {
	case compressionGzip:
		rd, err = gzip.NewReader(bytes.NewReader(payload))
	case compressionZlib:
		rd, err = zlib.NewReader(bytes.NewReader(payload))
	case compressionNone:
		return payload, nil
	case compressionLZ4:
		return decodeLZ4Block(payload)
	default:
		return nil, fmt.Errorf("unknown chunk compression %d", scheme)
	}
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	return io.ReadAll(rd)
}

// LZ4Block stream framing as written by lz4-java's LZ4BlockOutputStream:
// magic, token, compressed length, decompressed length, checksum, payload.
// A block with both lengths zero ends the stream.
const (
	lz4BlockMagic     = "LZ4Block"
	lz4BlockHeaderLen = len(lz4BlockMagic) + 1 + 4 + 4 + 4
	lz4MethodRaw      = 0x10
	lz4MethodLZ4      = 0x20
	lz4MaxBlockLen    = 32 << 20
)

func decodeLZ4Block(payload []byte) ([]byte, error) {
	var out []byte
	for {
		if len(payload) < lz4BlockHeaderLen {
			return nil, errors.New("lz4 block: truncated header")
		}
		if string(payload[:len(lz4BlockMagic)]) != lz4BlockMagic {
			return nil, errors.New("lz4 block: bad magic")
		}
		h := payload[len(lz4BlockMagic):]
		method := h[0] & 0xf0
		compressed := int(binary.LittleEndian.Uint32(h[1:5]))
		raw := int(binary.LittleEndian.Uint32(h[5:9]))
		payload = payload[lz4BlockHeaderLen:]
		if compressed == 0 && raw == 0 {
			return out, nil
		}
		if compressed < 0 || raw < 0 || raw > lz4MaxBlockLen || compressed > len(payload) {
			return nil, fmt.Errorf("lz4 block: bad lengths %d/%d", compressed, raw)
		}
		body := payload[:compressed]
		payload = payload[compressed:]
		switch method {
		case lz4MethodRaw:
			if compressed != raw {
				return nil, fmt.Errorf("lz4 block: raw block length %d != %d", compressed, raw)
			}
			out = append(out, body...)
		case lz4MethodLZ4:
			start := len(out)
			out = append(out, make([]byte, raw)...)
			n, err := lz4.UncompressBlock(body, out[start:])
			if err != nil {
				return nil, fmt.Errorf("lz4 block: %w", err)
			}
			if n != raw {
				return nil, fmt.Errorf("lz4 block: decoded %d bytes, want %d", n, raw)
			}
		default:
			return nil, fmt.Errorf("lz4 block: unknown method 0x%02x", method)
		}
		if len(payload) == 0 {
			// lz4-java always writes the end marker; tolerate its absence.
			return out, nil
		}
	}
}
