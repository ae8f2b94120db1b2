package lsm

import (
	"iter"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/return2faye/jkv/internal/idalloc"
	"github.com/return2faye/jkv/memtable"
	"github.com/return2faye/jkv/merge"
	"github.com/return2faye/jkv/sstable"
)

// Compactor executes compaction jobs chosen by Tree.PickJob, writing new
// SSTables, committing the result via the manifest, and sweeping orphaned
// table files. Grounded on spec §4.9's five-step procedure; each closed
// output table is finished on an errgroup goroutine while the next one
// fills, the errgroup use SPEC_FULL.md's domain-stack section records.
type Compactor struct {
	dir    string
	tables *idalloc.Allocator
	opts   sstable.WriterOptions
	log    zerolog.Logger
}

// NewCompactor returns a Compactor writing new tables into dir, allocating
// ids from tables.
func NewCompactor(dir string, tables *idalloc.Allocator, opts sstable.WriterOptions, log zerolog.Logger) *Compactor {
	return &Compactor{dir: dir, tables: tables, opts: opts, log: log.With().Str("component", "compactor").Logger()}
}

// Result is what a finished compaction job produced, ready to fold into
// the Tree and commit to the manifest.
type Result struct {
	Job        *Job
	NewTables  []*sstable.TableMeta
	RemovedIDs map[uint64]bool
}

// Run executes job: builds the merged stream over its inputs, writes one
// or more output SSTables split at the destination level's target size,
// and returns the result for the caller to commit. isBottomLevel controls
// whether tombstones are dropped from the merge (true) or carried through
// (false) per spec §4.9 step 2. Run does not touch the Tree or manifest —
// ApplyResult does, once the caller has durably committed the manifest
// that makes the result the new truth.
func (c *Compactor) Run(job *Job, tree *Tree, isBottomLevel bool) (*Result, error) {
	removed := map[uint64]bool{}
	for _, m := range job.Inputs {
		removed[m.ID] = true
	}
	for _, m := range job.DstInputs {
		removed[m.ID] = true
	}

	if job.TrivialDst {
		c.log.Info().Uint64("table", job.Inputs[0].ID).Int("from", job.SrcLevel).Int("to", job.DstLevel).
			Msg("trivial move, no rewrite")
		return &Result{Job: job, NewTables: job.Inputs, RemovedIDs: removed}, nil
	}

	readers, err := c.openSources(job)
	if err != nil {
		return nil, err
	}
	defer closeReaders(readers)

	sources := make([]iter.Seq[memtable.Record], len(readers))
	for i, r := range readers {
		sources[i] = r.Records()
	}

	newTables, err := c.writeOutputs(sources, tree.TargetSize(job.DstLevel), isBottomLevel)
	if err != nil {
		for _, t := range newTables {
			os.Remove(sstable.Path(c.dir, t.ID))
		}
		return nil, errors.Wrap(err, "lsm: compaction write failed")
	}

	c.log.Info().Int("from", job.SrcLevel).Int("to", job.DstLevel).
		Int("inputs", len(job.Inputs)+len(job.DstInputs)).Int("outputs", len(newTables)).
		Msg("compaction job produced new tables")

	return &Result{Job: job, NewTables: newTables, RemovedIDs: removed}, nil
}

// ApplyResult installs a Run result into the in-memory level tree and
// unlinks the superseded input files. Call only after the manifest commit
// that makes res durable (spec §4.9 step 5: install, then unlink).
func (c *Compactor) ApplyResult(tree *Tree, res *Result) {
	tree.Remove(res.Job.SrcLevel, res.RemovedIDs)
	if !res.Job.TrivialDst {
		tree.Remove(res.Job.DstLevel, res.RemovedIDs)
	}
	for _, t := range res.NewTables {
		tree.Add(res.Job.DstLevel, t)
	}
	if res.Job.TrivialDst {
		return
	}
	for id := range res.RemovedIDs {
		os.Remove(sstable.Path(c.dir, id))
	}
}

func closeReaders(readers []*sstable.Reader) {
	for _, r := range readers {
		r.Close()
	}
}

// openSources opens every input table for job and returns them ordered by
// merge priority: SrcLevel's tables first (L0 inputs, which may overlap,
// ordered newest-id-first so a newer write shadows an older one on key
// collision), then DstLevel's tables (ranges are disjoint from each other
// and from the source envelope's remainder, so their relative order
// doesn't affect correctness).
func (c *Compactor) openSources(job *Job) ([]*sstable.Reader, error) {
	ordered := make([]*sstable.TableMeta, 0, len(job.Inputs)+len(job.DstInputs))
	ordered = append(ordered, job.Inputs...)
	if job.SrcLevel == 0 {
		sortByIDDescending(ordered)
	}
	ordered = append(ordered, job.DstInputs...)

	out := make([]*sstable.Reader, 0, len(ordered))
	for _, m := range ordered {
		r, err := sstable.Open(sstable.Path(c.dir, m.ID), m.ID)
		if err != nil {
			closeReaders(out)
			return nil, errors.Wrapf(err, "lsm: open input table %d", m.ID)
		}
		out = append(out, r)
	}
	return out, nil
}

func sortByIDDescending(tables []*sstable.TableMeta) {
	for i := 1; i < len(tables); i++ {
		for j := i; j > 0 && tables[j].ID > tables[j-1].ID; j-- {
			tables[j], tables[j-1] = tables[j-1], tables[j]
		}
	}
}

// writeOutputs streams the merged result of sources into one or more
// output SSTables, closing the current one and opening the next whenever
// the current one's size reaches targetSize. Finishing a closed writer
// (fsync + footer write) runs on an errgroup goroutine so it overlaps
// with the next writer already accepting records from the still-flowing
// merge stream, instead of stalling the merge on every split boundary.
func (c *Compactor) writeOutputs(sources []iter.Seq[memtable.Record], targetSize int64, dropTombstones bool) ([]*sstable.TableMeta, error) {
	var g errgroup.Group
	var mu sync.Mutex
	var metas []*sstable.TableMeta

	finish := func(w *sstable.Writer) {
		g.Go(func() error {
			meta, err := w.Finish()
			if err != nil {
				return errors.Wrapf(err, "lsm: finish output table %d", w.ID())
			}
			if meta == nil {
				return nil
			}
			mu.Lock()
			metas = append(metas, meta)
			mu.Unlock()
			return nil
		})
	}

	w, err := c.newOutputWriter()
	if err != nil {
		return nil, err
	}

	m := merge.New(sources, false, dropTombstones)
	defer m.Close()

	for {
		rec, ok := m.Next()
		if !ok {
			break
		}
		if err := w.Add(rec.Key, rec.Entry); err != nil {
			finish(w)
			if werr := g.Wait(); werr != nil {
				return metas, werr
			}
			return metas, errors.Wrap(err, "lsm: add record to output table")
		}
		if w.Size() >= targetSize {
			finish(w)
			w, err = c.newOutputWriter()
			if err != nil {
				if werr := g.Wait(); werr != nil {
					return metas, werr
				}
				return metas, err
			}
		}
	}
	finish(w)

	if err := g.Wait(); err != nil {
		return metas, err
	}
	return metas, nil
}

func (c *Compactor) newOutputWriter() (*sstable.Writer, error) {
	id := c.tables.Next()
	w, err := sstable.NewWriter(c.dir, id, 0, c.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "lsm: create output table %d", id)
	}
	return w, nil
}
