package db

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/return2faye/jkv/internal/crockford"
	"github.com/return2faye/jkv/internal/idalloc"
	"github.com/return2faye/jkv/lsm"
	"github.com/return2faye/jkv/memtable"
	"github.com/return2faye/jkv/pos"
	"github.com/return2faye/jkv/sstable"
	"github.com/return2faye/jkv/wal"
)

const sstSubdir = "sst"

// ErrNotFound is returned by Get for a key that is absent or deleted.
var ErrNotFound = errors.New("db: key not found")

// DB is an open handle on one database directory: WAL, memtables, the
// level tree, and the compactor, sequenced per spec §4.11.
type DB struct {
	dir    string
	sstDir string
	opts   Options
	log    zerolog.Logger

	wal      *wal.Wal
	freezer  *memtable.Freezer
	tableIDs *idalloc.Allocator

	treeMu sync.RWMutex
	tree   *lsm.Tree

	compactor *lsm.Compactor

	manifestVersion atomic.Uint64
	seqno           atomic.Uint64

	flushMu sync.Mutex // flush of frozen memtable N completes before N+1 starts
	closeMu sync.Mutex
	closed  bool
}

// Open opens (or creates) the database rooted at dir, replaying the WAL
// and manifest to recover prior state (spec §4.11 "Recovery on Open").
func Open(dir string, opts Options) (*DB, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "db: create dir")
	}
	sstDir := filepath.Join(dir, sstSubdir)
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "db: create sst dir")
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "db").Logger()

	// 1. Load manifest (else start empty).
	manifest, err := lsm.LoadManifest(dir)
	if err != nil {
		return nil, errors.Wrap(err, "db: load manifest")
	}

	tree := lsm.NewTree(opts.levelOptions())
	known := map[uint64]bool{}
	tableIDs := idalloc.New(0)
	var manifestVersion, seqno uint64

	if manifest != nil {
		manifestVersion = manifest.ManifestVersion
		seqno = manifest.Seqno
		tableIDs.Observe(manifest.NextTableID)
		for level, tables := range manifest.Levels {
			for _, t := range tables {
				tree.Add(level, t)
				known[t.ID] = true
			}
		}
	}

	// Orphan sweep: remove any table file on disk not referenced by the
	// manifest (spec §4.9 "an orphan-scan on startup removes any table
	// file not referenced by the manifest").
	if err := sweepOrphanTables(sstDir, known, log); err != nil {
		return nil, err
	}

	// 2. Load the checkpoint (else zero).
	checkpoint, err := lsm.LoadCheckpoint(dir)
	if err != nil {
		return nil, errors.Wrap(err, "db: load checkpoint")
	}

	// 3. Open WAL; iterate forward from the checkpoint; rebuild the
	// active memtable by replaying every record past it.
	w, err := wal.Open(dir, opts.walOptions())
	if err != nil {
		return nil, errors.Wrap(err, "db: open wal")
	}

	freezer := memtable.NewFreezer()
	replayed := 0
	err = w.Replay(func(rec wal.Record) error {
		if beforeCheckpoint(rec.Entry, checkpoint) {
			return nil
		}
		if rec.Entry.Tombstone {
			freezer.Active().Delete(rec.Key, rec.Entry)
		} else {
			freezer.Active().Put(rec.Key, rec.Entry)
		}
		replayed++
		return nil
	})
	if err != nil {
		_ = w.Close()
		return nil, errors.Wrap(err, "db: replay wal")
	}

	d := &DB{
		dir:      dir,
		sstDir:   sstDir,
		opts:     opts,
		log:      log,
		wal:      w,
		freezer:  freezer,
		tableIDs: tableIDs,
		tree:     tree,
	}
	d.manifestVersion.Store(manifestVersion)
	d.seqno.Store(seqno)
	d.compactor = lsm.NewCompactor(sstDir, tableIDs, opts.writerOptions(), log)

	d.log.Info().Int("replayed", replayed).Int("levels", tree.LevelCount()).Msg("opened database")
	return d, nil
}

// beforeCheckpoint reports whether p is a record the checkpoint already
// covers (already durable in an SSTable, so replaying it again would be
// redundant — not incorrect, since Put/Delete are idempotent overwrites,
// but skipping it keeps recovery's cost proportional to the unflushed
// tail rather than the whole WAL history).
func beforeCheckpoint(p pos.Pos, cp lsm.Checkpoint) bool {
	if p.WALID != cp.WALID {
		return p.WALID < cp.WALID
	}
	return p.Offset < cp.Offset
}

func sweepOrphanTables(sstDir string, known map[uint64]bool, log zerolog.Logger) error {
	entries, err := os.ReadDir(sstDir)
	if err != nil {
		return errors.Wrap(err, "db: read sst dir")
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".sst"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		id, err := crockford.Decode(name[:len(name)-len(suffix)])
		if err != nil {
			continue
		}
		if known[id] {
			continue
		}
		log.Warn().Uint64("table", id).Msg("removing orphan sstable not in manifest")
		if err := os.Remove(filepath.Join(sstDir, name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "db: remove orphan table %d", id)
		}
	}
	return nil
}

// Put queues key -> value on the WAL and records it in the active memtable,
// freezing the memtable (and flushing it) if it has grown past
// MemtableSizeBytes. Put itself does not fsync the WAL.
func (d *DB) Put(key, value []byte) error {
	p, err := d.wal.Put(key, value)
	if err != nil {
		return errors.Wrap(err, "db: wal put")
	}
	d.freezer.Active().Put(key, p)
	return d.maybeFreeze()
}

// Delete writes a tombstone for key.
func (d *DB) Delete(key []byte) error {
	p, err := d.wal.Delete(key)
	if err != nil {
		return errors.Wrap(err, "db: wal delete")
	}
	d.freezer.Active().Delete(key, p)
	return d.maybeFreeze()
}

func (d *DB) maybeFreeze() error {
	if d.freezer.Active().Size() < d.opts.MemtableSizeBytes {
		return nil
	}
	d.freezer.Freeze()
	return d.Flush()
}

// Get returns the current value for key, or ErrNotFound if it's absent or
// deleted. It checks memtables newest-first, then SSTables L0 through the
// bottom level, per spec §4.11.
func (d *DB) Get(key []byte) ([]byte, error) {
	if e, ok := d.freezer.Get(key); ok {
		return d.resolve(e)
	}

	d.treeMu.RLock()
	levels := d.tree.LevelCount()
	tablesByLevel := make([][]*sstable.TableMeta, levels)
	for n := 0; n < levels; n++ {
		tablesByLevel[n] = append([]*sstable.TableMeta(nil), d.tree.Tables(n)...)
	}
	d.treeMu.RUnlock()

	for n := 0; n < levels; n++ {
		tables := tablesByLevel[n]
		if n == 0 {
			tables = newestFirst(tables)
		}
		for _, m := range tables {
			if !m.Overlaps(key, key) {
				continue
			}
			r, err := sstable.Open(sstable.Path(d.sstDir, m.ID), m.ID)
			if err != nil {
				return nil, errors.Wrapf(err, "db: open table %d", m.ID)
			}
			e, ok, err := r.Get(key)
			r.Close()
			if err != nil {
				return nil, errors.Wrapf(err, "db: get from table %d", m.ID)
			}
			if ok {
				return d.resolve(e)
			}
		}
	}
	return nil, ErrNotFound
}

func (d *DB) resolve(e memtable.Entry) ([]byte, error) {
	if e.IsTombstone() {
		return nil, ErrNotFound
	}
	v, err := d.wal.ReadValue(e.Pos)
	if err != nil {
		return nil, errors.Wrap(err, "db: read value")
	}
	return v, nil
}

// newestFirst reverses an L0 table slice (kept newest-last by Tree.Add)
// into the newest-first order Get needs.
func newestFirst(tables []*sstable.TableMeta) []*sstable.TableMeta {
	out := make([]*sstable.TableMeta, len(tables))
	for i, m := range tables {
		out[len(tables)-1-i] = m
	}
	return out
}

// Flush freezes the active memtable (if it holds anything) and flushes
// every frozen memtable to L0 (oldest first, so a later flush's manifest
// commit always reflects an earlier one having already completed), then
// updates the checkpoint.
func (d *DB) Flush() error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	if d.freezer.Active().Len() > 0 {
		d.freezer.Freeze()
	}

	frozen := d.freezer.FrozenNewestFirst()
	for i := len(frozen) - 1; i >= 0; i-- {
		m := frozen[i]
		if m.Len() == 0 {
			d.freezer.Drop(m.ID())
			continue
		}
		if err := d.flushOne(m); err != nil {
			return err
		}
		d.freezer.Drop(m.ID())
	}

	cp := lsm.Checkpoint{WALID: d.wal.CurID(), Offset: d.wal.CurPos()}
	if err := lsm.WriteCheckpoint(d.dir, cp); err != nil {
		return errors.Wrap(err, "db: write checkpoint")
	}
	return nil
}

func (d *DB) flushOne(m *memtable.Memtable) error {
	id := d.tableIDs.Next()
	w, err := sstable.NewWriter(d.sstDir, id, m.Len(), d.opts.writerOptions())
	if err != nil {
		return errors.Wrapf(err, "db: create flush table %d", id)
	}
	for rec := range m.Iter() {
		if err := w.Add(rec.Key, rec.Entry); err != nil {
			os.Remove(sstable.Path(d.sstDir, id))
			return errors.Wrapf(err, "db: write flush table %d", id)
		}
	}
	meta, err := w.Finish()
	if err != nil {
		return errors.Wrapf(err, "db: finish flush table %d", id)
	}
	if meta == nil {
		return nil // empty memtable produced no table; nothing to install
	}

	d.treeMu.Lock()
	d.tree.Add(0, meta)
	d.treeMu.Unlock()

	return d.commitManifest()
}

// Compact picks and runs compaction jobs until no level needs one
// (spec §4.11's Compact), committing the manifest after each job per
// spec §4.9's crash-safety rule.
func (d *DB) Compact() error {
	for {
		d.treeMu.RLock()
		job, ok := d.tree.PickJob()
		d.treeMu.RUnlock()
		if !ok {
			return nil
		}

		isBottom := job.DstLevel == d.tree.LevelCount()-1
		d.treeMu.RLock()
		res, err := d.compactor.Run(job, d.tree, isBottom)
		d.treeMu.RUnlock()
		if err != nil {
			return errors.Wrap(err, "db: compaction failed")
		}

		d.treeMu.Lock()
		d.compactor.ApplyResult(d.tree, res)
		d.treeMu.Unlock()

		if err := d.commitManifest(); err != nil {
			return err
		}
	}
}

// Maintain runs Flush followed by Compact.
func (d *DB) Maintain() error {
	if err := d.Flush(); err != nil {
		return err
	}
	return d.Compact()
}

// commitManifest snapshots the current level tree and writes it as the
// new manifest, bumping ManifestVersion so every mutation strictly
// increases it (spec §8 property 12).
func (d *DB) commitManifest() error {
	d.treeMu.RLock()
	levels := make([][]*sstable.TableMeta, d.tree.LevelCount())
	for n := range levels {
		levels[n] = append([]*sstable.TableMeta(nil), d.tree.Tables(n)...)
	}
	d.treeMu.RUnlock()

	version := d.manifestVersion.Add(1)
	m := &lsm.Manifest{
		ManifestVersion: version,
		Seqno:           d.seqno.Load(),
		NextTableID:     d.tableIDs.Peek(),
		Levels:          levels,
	}
	if err := lsm.WriteManifest(d.dir, m); err != nil {
		d.manifestVersion.Store(version - 1)
		return errors.Wrap(err, "db: write manifest")
	}
	return nil
}

// Close flushes all pending data, syncs the WAL, and releases resources.
// Safe to call more than once.
func (d *DB) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.Flush(); err != nil {
		return err
	}
	if err := d.wal.SyncAll(); err != nil {
		return errors.Wrap(err, "db: sync wal")
	}
	return d.wal.Close()
}
