package pipeline

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/INLOpen/chunkbridge/attach"
	"github.com/INLOpen/chunkbridge/bedrock"
	"github.com/INLOpen/chunkbridge/checkpoint"
	"github.com/INLOpen/chunkbridge/convert"
	"github.com/INLOpen/chunkbridge/core"
	"github.com/INLOpen/chunkbridge/scheduler"
	"github.com/INLOpen/chunkbridge/staging"
	"github.com/INLOpen/chunkbridge/sys"
	"github.com/INLOpen/chunkbridge/world"
)

// drain merges the worker aggregates, attaches the local player's entities
// and writes every chunk's entity digest.
func (r *run) drain(ctx context.Context) error {
	r.level.Absorb(r.reduced)
	r.reduced = nil

	p := convertPlayer(r.level.Source, r.opts.Tables, r.registrar, r.logger)
	r.level.SetLocalPlayer(p)
	r.logger.Debug("Local player converted", "player", describePlayer(p))
	if err := r.attachPlayer(); err != nil {
		return err
	}

	targets := make(map[core.Dimension][]core.ChunkPos, len(r.indexes))
	total := 0
	for _, dim := range r.opts.DimensionFilter {
		list, err := r.indexes[dim].TargetList()
		if err != nil {
			return err
		}
		targets[dim] = list
		total += len(list)
	}
	r.logger.Info("Writing entity digests", "chunks", total)

	offset := 0
	for _, dim := range r.opts.DimensionFilter {
		list := targets[dim]
		idx := r.indexes[dim]
		base := offset
		_, err := scheduler.Map(ctx, list, r.concurrency,
			func(target core.ChunkPos, _ int) (int, error) {
				return r.writeDigest(idx, dim, target)
			},
			scheduler.Options{
				Progress: func(done, _ int) bool { return r.progress.Report(core.PhaseEntities, base+done, total) },
				Abort:    r.abort,
				Logger:   r.opts.Logger,
			})
		if err != nil {
			return err
		}
		offset += len(list)
	}
	return nil
}

// attachPlayer records the player's vehicle and riders in the attachment
// index of the player's dimension.
func (r *run) attachPlayer() error {
	p := r.level.Player
	entities := p.Entities()
	if len(entities) == 0 {
		return nil
	}
	idx, ok := r.indexes[p.Dimension]
	if !ok {
		r.logger.Info("Player dimension not converted, dropping its vehicle and riders", "dimension", p.Dimension.String())
		p.Vehicle, p.Riders = nil, nil
		return nil
	}
	pos, _ := world.Doubles(p.Tag, "Pos")
	home := core.ChunkAt(pos[0], pos[2])
	byChunk := make(map[core.ChunkPos][]int64)
	var order []core.ChunkPos
	for _, e := range entities {
		if _, seen := byChunk[e.Chunk]; !seen {
			order = append(order, e.Chunk)
		}
		byChunk[e.Chunk] = append(byChunk[e.Chunk], e.UniqueID)
	}
	for _, target := range order {
		if err := idx.Add(byChunk[target], target, convert.AttachSource(target, home)); err != nil {
			return err
		}
	}
	return nil
}

// writeDigest stages the digest of target. A reference recorded from more
// than one source chunk is listed once.
func (r *run) writeDigest(idx *attach.Index, dim core.Dimension, target core.ChunkPos) (int, error) {
	seen := make(map[int64]bool)
	var refs []int64
	err := idx.EntityReferences(target, func(ref int64) error {
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
		return nil
	})
	if err != nil || len(refs) == 0 {
		return 0, err
	}
	w, err := r.store.AcquireWriter()
	if err != nil {
		return 0, err
	}
	defer r.store.ReleaseWriter(w)
	if err := w.Put(bedrock.DigestKey(dim, target), bedrock.DigestValue(refs)); err != nil {
		return 0, core.NewError("pipeline.Drain", "stage digest of "+target.String(), err)
	}
	return len(refs), nil
}

// attachPass resolves what only the complete aggregates can: chests split
// across regions, entities without an owning chunk, the portal table and
// the local player.
func (r *run) attachPass(_ context.Context) error {
	const op = "pipeline.EntityAttachmentPass"
	w, err := r.store.AcquireWriter()
	if err != nil {
		return err
	}
	defer r.store.ReleaseWriter(w)
	put := func(what string, rec bedrock.Record, err error) error {
		if err != nil {
			return core.NewError(op, "encode "+what, err)
		}
		if err := w.Put(rec.Key, rec.Value); err != nil {
			return core.NewError(op, "stage "+what, err)
		}
		return nil
	}

	var portals []bedrock.PortalRecord
	dims := r.level.Dimensions()
	for i, dim := range dims {
		acc := r.level.Dimension(dim)

		res := acc.ResolveChests()
		chunks := make([]core.ChunkPos, 0, len(res.Chunks))
		for c := range res.Chunks {
			chunks = append(chunks, c)
		}
		sort.Slice(chunks, func(i, j int) bool { return chunks[i].Pack() < chunks[j].Pack() })
		for _, c := range chunks {
			rec, err := bedrock.EncodeBlockEntities(dim, c, res.Chunks[c])
			if err := put("block entities of "+c.String(), rec, err); err != nil {
				return err
			}
		}
		if len(res.Unpaired) > 0 {
			r.logger.Debug("Chests left unpaired", "dimension", dim.String(), "count", len(res.Unpaired))
		}

		for _, e := range acc.AutonomousSorted() {
			rec, err := bedrock.EncodeEntity(e)
			if err := put("autonomous entity", rec, err); err != nil {
				return err
			}
		}
		for _, p := range acc.PortalList() {
			portals = append(portals, bedrock.PortalRecord{Dimension: dim, Pos: p.Pos, AxisX: p.Axis != "z", Span: p.Span})
		}
		if !acc.StillValid {
			r.logger.Warn("Dimension contains chunks older than the supported data version", "dimension", dim.String())
		}
		r.logger.Info("Dimension resolved",
			"dimension", dim.String(),
			"chests_paired", res.Paired,
			"autonomous", len(acc.Autonomous),
			"portals", len(acc.Portals),
			"chunk_p99_ms", acc.Latency.Quantile(0.99))
		if !r.progress.Report(core.PhaseFixups, i+1, len(dims)) {
			return core.ErrCancelled
		}
	}
	if len(portals) > 0 {
		rec, err := bedrock.EncodePortals(portals)
		if err := put("portal table", rec, err); err != nil {
			return err
		}
	}

	if p := r.level.Player; p != nil {
		for _, e := range p.Entities() {
			rec, err := bedrock.EncodeEntity(e)
			if err := put("player entity", rec, err); err != nil {
				return err
			}
		}
		v, err := bedrock.Marshal(p.Tag)
		if err := put("local player", bedrock.Record{Key: []byte(bedrock.KeyLocalPlayer), Value: v}, err); err != nil {
			return err
		}
	}
	return nil
}

// levelName picks the output world's name.
func (r *run) levelName() string {
	if r.opts.LevelName != "" {
		return r.opts.LevelName
	}
	if n := world.String(r.level.Source, "LevelName"); n != "" {
		return n
	}
	return filepath.Base(filepath.Clean(r.input))
}

// levelDat builds the Bedrock level.dat from the source metadata.
func (r *run) levelDat(name string) world.Tag {
	src := r.level.Source
	t := bedrock.DefaultLevelDat(name)
	for _, k := range []string{"SpawnX", "SpawnY", "SpawnZ", "GameType"} {
		if v, ok := world.Int(src, k); ok {
			t[k] = int32(v)
		}
	}
	if v, ok := world.Int(src, "Difficulty"); ok {
		t["Difficulty"] = int32(v)
	}
	if v, ok := world.Int(src, "DayTime"); ok {
		t["Time"] = v
	}
	if v, ok := world.Int(src, "LastPlayed"); ok {
		t["LastPlayed"] = v / 1000
	}
	if v, ok := world.Int(src, "allowCommands"); ok {
		t["commandsEnabled"] = uint8(v)
	}
	if gen, ok := world.Compound(src, "WorldGenSettings"); ok {
		if seed, ok := world.Int(gen, "seed"); ok {
			t["RandomSeed"] = seed
		}
	} else if seed, ok := world.Int(src, "RandomSeed"); ok {
		t["RandomSeed"] = seed
	}
	t["currentTick"] = r.level.MaxTick()
	return t
}

// finalize writes the world metadata, commits the staged records into the
// target database and drops the completion marker.
func (r *run) finalize(ctx context.Context) error {
	const op = "pipeline.Finalize"
	name := r.levelName()
	if err := bedrock.WriteLevelDat(filepath.Join(r.output, "level.dat"), r.levelDat(name)); err != nil {
		return core.NewError(op, "write level.dat", err)
	}
	if err := sys.WriteFileAtomic(filepath.Join(r.output, "levelname.txt"), []byte(name), 0o644); err != nil {
		return core.NewError(op, "write levelname.txt", err)
	}

	db, err := bedrock.OpenDB(filepath.Join(r.output, "db"), bedrock.DBOptions{BatchSize: r.opts.BatchSize, Logger: r.opts.Logger})
	if err != nil {
		return core.NewError(op, "open target database", err)
	}
	var sink staging.Sink = db
	cerr := r.store.Close(ctx, r.progress, sink)
	dberr := db.Close()
	if cerr != nil {
		return cerr
	}
	if dberr != nil {
		return core.NewError(op, "close target database", dberr)
	}

	m := checkpoint.Marker{
		Records:   r.store.Records(),
		Skipped:   uint32(len(r.level.Skipped())),
		Tick:      r.level.MaxTick(),
		Completed: time.Now(),
	}
	if err := checkpoint.Write(r.output, m); err != nil {
		return core.NewError(op, "write completion marker", err)
	}
	r.committed = true
	return nil
}
