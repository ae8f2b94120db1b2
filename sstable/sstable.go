package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/return2faye/jkv/internal/crockford"
	"github.com/return2faye/jkv/memtable"
	"github.com/return2faye/jkv/sstable/cuckoo"
	"github.com/return2faye/jkv/sstable/pgm"
)

// DefaultPGMEpsilon bounds the learned index's prediction error over a
// table's block-boundary keys (spec §4.5).
const DefaultPGMEpsilon = 16

// Data block compression codecs. CompressionNone is the default and keeps
// the literal byte-for-byte block layout spec §4.3 describes; CompressionZstd
// whole-block-compresses each closed block before it's written.
const (
	CompressionNone byte = 0
	CompressionZstd byte = 1
)

// footerSize is the fixed trailer spec §4.6 requires at end-of-file:
// filter_off, filter_size, index_off, index_size, item_count, a one-byte
// block compression codec, then a CRC32 over every byte preceding it.
// item_count and the codec byte are this tree's additions to the spec's
// literal {filter_off,filter_size,index_off,index_size,CRC32} tuple: the
// former lets TableMeta report item count without re-decoding every data
// block on load, the latter records once per table (not per block, since a
// table is written with one codec throughout) whether data blocks need
// decompressing before use.
const footerSize = 8 + 4 + 8 + 4 + 8 + 1 + 4

// Path returns the conventional on-disk path for SSTable id within dir,
// derived deterministically from the id per spec §3's "filename is derived
// deterministically from that id."
func Path(dir string, id uint64) string {
	return filepath.Join(dir, crockford.Encode(id)+".sst")
}

// WriterOptions configures block size, prefix-compression restart cadence,
// the cuckoo filter's target false-positive rate, and block compression for
// one table. PGMEpsilon is not written into the table: Open always builds
// the block index with DefaultPGMEpsilon.
type WriterOptions struct {
	BlockSize              int
	RestartInterval        int
	FilterFPP              float64
	FilterEntriesPerBucket int
	FilterMaxKicks         int
	PGMEpsilon             int
	BlockCompression       byte // CompressionNone (default) or CompressionZstd
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.RestartInterval <= 0 {
		o.RestartInterval = DefaultRestartInterval
	}
	if o.FilterFPP <= 0 {
		o.FilterFPP = cuckoo.DefaultFPP
	}
	if o.PGMEpsilon <= 0 {
		o.PGMEpsilon = DefaultPGMEpsilon
	}
	return o
}

type blockIndexEntry struct {
	lastKey   []byte
	offset    int64
	size      uint32
	itemCount int
}

// Writer consumes an ascending stream of (key, entry) pairs and produces one
// SSTable file, per spec §4.6.
type Writer struct {
	path    string
	id      uint64
	opts    WriterOptions
	file    *os.File
	cur     *blockBuilder
	curOff  int64
	index   []blockIndexEntry
	filter  *cuckoo.Filter
	minKey  []byte
	maxKey  []byte
	nItems  int
	prevKey []byte
	zw      *zstd.Encoder // nil unless opts.BlockCompression == CompressionZstd
}

// NewWriter creates a new SSTable writer for table id, truncating any
// existing file at the conventional path.
func NewWriter(dir string, id uint64, itemCountHint int, opts WriterOptions) (*Writer, error) {
	opts = opts.withDefaults()
	path := Path(dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}

	if itemCountHint <= 0 {
		itemCountHint = 1024
	}

	var zw *zstd.Encoder
	if opts.BlockCompression == CompressionZstd {
		zw, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("sstable: new zstd encoder: %w", err)
		}
	}

	return &Writer{
		path: path,
		id:   id,
		opts: opts,
		file: f,
		cur:  newBlockBuilder(opts.RestartInterval),
		filter: cuckoo.New(cuckoo.Options{
			Capacity:         itemCountHint,
			FPP:              opts.FilterFPP,
			EntriesPerBucket: opts.FilterEntriesPerBucket,
			MaxKicks:         opts.FilterMaxKicks,
		}, int64(id)),
		zw: zw,
	}, nil
}

// Size returns the writer's current on-disk footprint: bytes already
// flushed in closed blocks plus the in-progress block's buffered size.
// Compaction output splitting (spec §4.9 step 3) uses this to decide when
// to close the current output table and start the next one.
func (w *Writer) Size() int64 {
	return w.curOff + int64(w.cur.size())
}

// ItemCount returns the number of (key, entry) pairs added so far.
func (w *Writer) ItemCount() int { return w.nItems }

// ID returns the table id this writer was created for.
func (w *Writer) ID() uint64 { return w.id }

// Add appends one (key, entry) pair. Callers must add keys in strictly
// ascending order (spec §3's SSTable key ordering invariant).
func (w *Writer) Add(key []byte, e memtable.Entry) error {
	if w.prevKey != nil && bytes.Compare(key, w.prevKey) <= 0 {
		return fmt.Errorf("sstable: keys must be added in ascending order, got %q after %q", key, w.prevKey)
	}
	w.prevKey = append(w.prevKey[:0], key...)

	if w.minKey == nil {
		w.minKey = append([]byte(nil), key...)
	}
	w.maxKey = append(w.maxKey[:0], key...)

	// Tombstones go into the filter too, so Get still finds them and they
	// keep shadowing older tables.
	w.filter.Add(key)

	w.cur.add(key, e)
	w.nItems++

	if w.cur.size() >= w.opts.BlockSize {
		return w.closeCurrentBlock()
	}
	return nil
}

func (w *Writer) closeCurrentBlock() error {
	if w.cur.empty() {
		return nil
	}
	data := w.cur.finish()
	if w.zw != nil {
		data = w.zw.EncodeAll(data, make([]byte, 0, len(data)))
	}

	if _, err := w.file.Seek(w.curOff, io.SeekStart); err != nil {
		return fmt.Errorf("sstable: seek: %w", err)
	}
	n, err := w.file.Write(data)
	if err != nil {
		return fmt.Errorf("sstable: write data block: %w", err)
	}

	lastKey := append([]byte(nil), w.prevKey...)
	w.index = append(w.index, blockIndexEntry{
		lastKey:   lastKey,
		offset:    w.curOff,
		size:      uint32(n),
		itemCount: w.cur.count,
	})

	w.curOff += int64(n)
	w.cur = newBlockBuilder(w.opts.RestartInterval)
	return nil
}

// Finish closes the final block (if any), emits the filter block, index
// block, and footer, and returns the table's metadata. If zero items were
// ever added, the output file is removed and Finish returns (nil, nil) per
// spec §4.6's "if zero items were added, no file is produced."
func (w *Writer) Finish() (*TableMeta, error) {
	if err := w.closeCurrentBlock(); err != nil {
		w.file.Close()
		if w.zw != nil {
			w.zw.Close()
		}
		return nil, err
	}
	if w.zw != nil {
		defer w.zw.Close()
	}

	if w.nItems == 0 {
		w.file.Close()
		os.Remove(w.path)
		return nil, nil
	}

	filterOff := w.curOff
	filterData := w.filter.Marshal()
	if _, err := w.file.Write(filterData); err != nil {
		return nil, fmt.Errorf("sstable: write filter block: %w", err)
	}

	indexOff := filterOff + int64(len(filterData))
	indexData, err := encodeIndexBlock(w.index)
	if err != nil {
		return nil, err
	}
	if _, err := w.file.Write(indexData); err != nil {
		return nil, fmt.Errorf("sstable: write index block: %w", err)
	}

	if err := w.writeFooter(filterOff, len(filterData), indexOff, len(indexData)); err != nil {
		return nil, err
	}

	if err := w.file.Sync(); err != nil {
		return nil, fmt.Errorf("sstable: fsync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("sstable: close: %w", err)
	}

	fi, err := os.Stat(w.path)
	if err != nil {
		return nil, fmt.Errorf("sstable: stat: %w", err)
	}

	return &TableMeta{
		ID:        w.id,
		MinKey:    w.minKey,
		MaxKey:    w.maxKey,
		ItemCount: w.nItems,
		FileSize:  fi.Size(),
	}, nil
}

func (w *Writer) writeFooter(filterOff int64, filterSize int, indexOff int64, indexSize int) error {
	buf := make([]byte, 0, footerSize)
	buf = appendI64(buf, filterOff)
	buf = appendU32(buf, uint32(filterSize))
	buf = appendI64(buf, indexOff)
	buf = appendU32(buf, uint32(indexSize))
	buf = appendU64(buf, uint64(w.nItems))
	buf = append(buf, w.opts.BlockCompression)

	crc := crc32.ChecksumIEEE(buf)
	buf = appendU32(buf, crc)

	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("sstable: write footer: %w", err)
	}
	return nil
}

func encodeIndexBlock(entries []blockIndexEntry) ([]byte, error) {
	var buf bytes.Buffer
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(&buf, crc)

	if err := binary.Write(mw, binary.LittleEndian, uint32(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := binary.Write(mw, binary.LittleEndian, uint32(len(e.lastKey))); err != nil {
			return nil, err
		}
		if _, err := mw.Write(e.lastKey); err != nil {
			return nil, err
		}
		if err := binary.Write(mw, binary.LittleEndian, e.offset); err != nil {
			return nil, err
		}
		if err := binary.Write(mw, binary.LittleEndian, e.size); err != nil {
			return nil, err
		}
		if err := binary.Write(mw, binary.LittleEndian, uint32(e.itemCount)); err != nil {
			return nil, err
		}
	}
	binary.Write(&buf, binary.LittleEndian, crc.Sum32())
	return buf.Bytes(), nil
}

func appendI64(buf []byte, v int64) []byte { return appendU64(buf, uint64(v)) }

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// TableMeta is the in-RAM metadata kept for a loaded SSTable (spec §3).
type TableMeta struct {
	ID        uint64
	MinKey    []byte
	MaxKey    []byte
	ItemCount int
	FileSize  int64
}

// Overlaps reports whether [lo, hi] intersects [MinKey, MaxKey]. A nil bound
// is unbounded on that side.
func (m *TableMeta) Overlaps(lo, hi []byte) bool {
	if hi != nil && bytes.Compare(m.MinKey, hi) > 0 {
		return false
	}
	if lo != nil && bytes.Compare(m.MaxKey, lo) < 0 {
		return false
	}
	return true
}

// Reader serves point lookups and range iteration over one immutable
// SSTable file, per spec §4.6.
type Reader struct {
	file        *os.File
	meta        TableMeta
	index       []blockIndexEntry
	filter      *cuckoo.Filter
	pgmIdx      *pgm.Index // nil when there are too few blocks to bother
	compression byte
	zr          *zstd.Decoder // nil unless compression == CompressionZstd
}

// Open loads path's footer, filter, and index into memory, and reads the
// first block to recover the table's min key.
func Open(path string, id uint64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: stat: %w", err)
	}
	if fi.Size() < footerSize {
		f.Close()
		return nil, fmt.Errorf("sstable: file too small for footer")
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, fi.Size()-footerSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read footer: %w", err)
	}

	wantCRC := binary.LittleEndian.Uint32(footerBuf[footerSize-4:])
	gotCRC := crc32.ChecksumIEEE(footerBuf[:footerSize-4])
	if wantCRC != gotCRC {
		f.Close()
		return nil, fmt.Errorf("sstable: footer CRC mismatch (corrupt file)")
	}

	filterOff := int64(binary.LittleEndian.Uint64(footerBuf[0:8]))
	filterSize := binary.LittleEndian.Uint32(footerBuf[8:12])
	indexOff := int64(binary.LittleEndian.Uint64(footerBuf[12:20]))
	indexSize := binary.LittleEndian.Uint32(footerBuf[20:24])
	itemCount := binary.LittleEndian.Uint64(footerBuf[24:32])
	compression := footerBuf[32]

	filterBuf := make([]byte, filterSize)
	if _, err := f.ReadAt(filterBuf, filterOff); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read filter block: %w", err)
	}
	filter, err := cuckoo.Unmarshal(filterBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: decode filter block: %w", err)
	}

	indexBuf := make([]byte, indexSize)
	if _, err := f.ReadAt(indexBuf, indexOff); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read index block: %w", err)
	}
	index, err := decodeIndexBlock(indexBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: decode index block: %w", err)
	}
	if len(index) == 0 {
		f.Close()
		return nil, fmt.Errorf("sstable: empty index block")
	}

	var zr *zstd.Decoder
	if compression == CompressionZstd {
		zr, err = zstd.NewReader(nil)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("sstable: new zstd decoder: %w", err)
		}
	}

	firstBlockBuf := make([]byte, index[0].size)
	if _, err := f.ReadAt(firstBlockBuf, index[0].offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read first data block: %w", err)
	}
	firstBlock := firstBlockBuf
	if zr != nil {
		firstBlock, err = zr.DecodeAll(firstBlockBuf, nil)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("sstable: decompress first block: %w", err)
		}
	}
	var minKey []byte
	if err := forEachInBlock(firstBlock, func(r memtable.Record) bool {
		minKey = append([]byte(nil), r.Key...)
		return false
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: decode first block: %w", err)
	}

	r := &Reader{
		file: f,
		meta: TableMeta{
			ID:        id,
			MinKey:    minKey,
			MaxKey:    index[len(index)-1].lastKey,
			ItemCount: int(itemCount),
			FileSize:  fi.Size(),
		},
		index:       index,
		filter:      filter,
		compression: compression,
		zr:          zr,
	}
	r.pgmIdx = buildBlockPGMIndex(index)
	return r, nil
}

func decodeIndexBlock(data []byte) ([]blockIndexEntry, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("sstable: index block too small")
	}
	wantCRC := binary.LittleEndian.Uint32(data[len(data)-4:])
	gotCRC := crc32.ChecksumIEEE(data[:len(data)-4])
	if wantCRC != gotCRC {
		return nil, fmt.Errorf("sstable: index block CRC mismatch")
	}

	p := 0
	count := int(binary.LittleEndian.Uint32(data[p : p+4]))
	p += 4

	entries := make([]blockIndexEntry, 0, count)
	for i := 0; i < count; i++ {
		if p+4 > len(data) {
			return nil, fmt.Errorf("sstable: truncated index entry")
		}
		keyLen := int(binary.LittleEndian.Uint32(data[p : p+4]))
		p += 4
		if p+keyLen+8+4+4 > len(data) {
			return nil, fmt.Errorf("sstable: truncated index entry body")
		}
		key := append([]byte(nil), data[p:p+keyLen]...)
		p += keyLen
		offset := int64(binary.LittleEndian.Uint64(data[p : p+8]))
		p += 8
		size := binary.LittleEndian.Uint32(data[p : p+4])
		p += 4
		itemCount := int(binary.LittleEndian.Uint32(data[p : p+4]))
		p += 4
		entries = append(entries, blockIndexEntry{lastKey: key, offset: offset, size: size, itemCount: itemCount})
	}
	return entries, nil
}

// keyPrefixUint64 projects a byte key onto an order-preserving (for differing
// prefixes) u64 surrogate: its first 8 bytes, big-endian, zero-padded. This
// is the numeric domain the PGM index is built over, per spec §4.5's "block
// boundary keys hashed to u64" — a length-8 big-endian prefix rather than an
// actual hash, since an order-preserving transform is what makes a learned
// index over byte-string keys meaningful at all; a non-order-preserving hash
// would make predict() meaningless. Exact block selection always re-checks
// with a real byte comparison against the index's actual keys, so ties or
// reordering introduced by truncation only cost prediction accuracy, never
// correctness.
func keyPrefixUint64(key []byte) uint64 {
	var buf [8]byte
	copy(buf[:], key)
	return binary.BigEndian.Uint64(buf[:])
}

func buildBlockPGMIndex(index []blockIndexEntry) *pgm.Index {
	if len(index) < 4 {
		return nil
	}
	surrogates := make([]uint64, len(index))
	var prev uint64
	for i, e := range index {
		v := keyPrefixUint64(e.lastKey)
		if i > 0 && v <= prev {
			v = prev + 1
		}
		surrogates[i] = v
		prev = v
	}
	idx, err := pgm.New(surrogates, DefaultPGMEpsilon, len(index) > 256)
	if err != nil {
		return nil
	}
	return idx
}

// MinKey, MaxKey, ItemCount, FileSize expose the reader's loaded metadata.
func (r *Reader) Meta() TableMeta { return r.meta }

// MayContain reports whether key could be present, per the cuckoo filter
// (spec §4.6's may_contain).
func (r *Reader) MayContain(key []byte) bool {
	return r.filter.Contains(key)
}

// ContainsKeyRange reports whether key falls within [MinKey, MaxKey].
func (r *Reader) ContainsKeyRange(key []byte) bool {
	return bytes.Compare(key, r.meta.MinKey) >= 0 && bytes.Compare(key, r.meta.MaxKey) <= 0
}

// findBlock returns the index of the first data block whose last key is >=
// key, or len(r.index) if no block can contain it. Uses the PGM index as a
// hint when present; always falls back to/corrects with real byte-key
// comparison, so an imprecise prediction costs speed, not correctness.
func (r *Reader) findBlock(key []byte) int {
	n := len(r.index)
	ge := func(i int) bool { return bytes.Compare(r.index[i].lastKey, key) >= 0 }

	if r.pgmIdx == nil {
		return sort.Search(n, ge)
	}

	target := keyPrefixUint64(key)
	lo, hi := r.pgmIdx.PredictRange(target)
	for lo > 0 && ge(lo-1) {
		lo--
	}
	for hi < n && !ge(hi) {
		hi++
	}
	if lo > hi {
		lo = 0
		hi = n
	}
	return lo + sort.Search(hi-lo, func(i int) bool { return ge(lo + i) })
}

func (r *Reader) readBlock(i int) ([]byte, error) {
	e := r.index[i]
	buf := make([]byte, e.size)
	if _, err := r.file.ReadAt(buf, e.offset); err != nil {
		return nil, fmt.Errorf("sstable: read block %d: %w", i, err)
	}
	if r.zr == nil {
		return buf, nil
	}
	decoded, err := r.zr.DecodeAll(buf, nil)
	if err != nil {
		return nil, fmt.Errorf("sstable: decompress block %d: %w", i, err)
	}
	return decoded, nil
}

// Get looks up key, pruning via the filter and key range before doing any
// I/O, per spec §4.6.
func (r *Reader) Get(key []byte) (memtable.Entry, bool, error) {
	if !r.ContainsKeyRange(key) {
		return memtable.Entry{}, false, nil
	}
	if !r.MayContain(key) {
		return memtable.Entry{}, false, nil
	}

	i := r.findBlock(key)
	if i >= len(r.index) {
		return memtable.Entry{}, false, nil
	}

	block, err := r.readBlock(i)
	if err != nil {
		return memtable.Entry{}, false, err
	}
	return blockGet(block, key)
}

// All yields every (key, entry) pair in the table in ascending order,
// lazily decoding blocks.
func (r *Reader) All(fn func(memtable.Record) bool) error {
	for i := range r.index {
		block, err := r.readBlock(i)
		if err != nil {
			return err
		}
		stop := false
		if err := forEachInBlock(block, func(rec memtable.Record) bool {
			if !fn(rec) {
				stop = true
				return false
			}
			return true
		}); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// AllReverse yields every (key, entry) pair in descending order.
func (r *Reader) AllReverse(fn func(memtable.Record) bool) error {
	for i := len(r.index) - 1; i >= 0; i-- {
		block, err := r.readBlock(i)
		if err != nil {
			return err
		}
		stop := false
		if err := forEachInBlockReverse(block, func(rec memtable.Record) bool {
			if !fn(rec) {
				stop = true
				return false
			}
			return true
		}); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// Range yields (key, entry) pairs with lo <= key <= hi in ascending order.
// A nil bound is unbounded on that side. Blocks outside the range are
// skipped entirely using the index, never read.
func (r *Reader) Range(lo, hi []byte, fn func(memtable.Record) bool) error {
	start := 0
	if lo != nil {
		start = r.findBlock(lo)
	}
	for i := start; i < len(r.index); i++ {
		if hi != nil && bytes.Compare(blockFirstKey(r.index, i), hi) > 0 {
			return nil
		}
		block, err := r.readBlock(i)
		if err != nil {
			return err
		}
		stop := false
		if err := forEachInBlock(block, func(rec memtable.Record) bool {
			if lo != nil && bytes.Compare(rec.Key, lo) < 0 {
				return true
			}
			if hi != nil && bytes.Compare(rec.Key, hi) > 0 {
				stop = true
				return false
			}
			if !fn(rec) {
				stop = true
				return false
			}
			return true
		}); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// RangeReverse is Range in descending order: lo <= key <= hi, starting
// from the highest qualifying key. A nil bound is unbounded on that side.
func (r *Reader) RangeReverse(lo, hi []byte, fn func(memtable.Record) bool) error {
	start := len(r.index) - 1
	if hi != nil {
		start = r.findBlock(hi)
		if start >= len(r.index) {
			start = len(r.index) - 1
		}
	}
	for i := start; i >= 0; i-- {
		if lo != nil && bytes.Compare(blockLastKey(r.index, i), lo) < 0 {
			return nil
		}
		block, err := r.readBlock(i)
		if err != nil {
			return err
		}
		stop := false
		if err := forEachInBlockReverse(block, func(rec memtable.Record) bool {
			if hi != nil && bytes.Compare(rec.Key, hi) > 0 {
				return true
			}
			if lo != nil && bytes.Compare(rec.Key, lo) < 0 {
				stop = true
				return false
			}
			if !fn(rec) {
				stop = true
				return false
			}
			return true
		}); err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func blockLastKey(index []blockIndexEntry, i int) []byte {
	return index[i].lastKey
}

func blockFirstKey(index []blockIndexEntry, i int) []byte {
	if i == 0 {
		return nil
	}
	return index[i-1].lastKey
}

// Close releases the reader's open file handle and any zstd decoder.
func (r *Reader) Close() error {
	if r.zr != nil {
		r.zr.Close()
	}
	return r.file.Close()
}

// Records returns an iter.Seq view of All, so a Reader composes with the
// rest of the tree's iterator vocabulary (memtable.Memtable.Iter and
// friends) — notably for merge.New, which merges sources expressed as
// iter.Seq[memtable.Record].
func (r *Reader) Records() iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		_ = r.All(yield)
	}
}

// ReverseRecords is Records in descending key order.
func (r *Reader) ReverseRecords() iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		_ = r.AllReverse(yield)
	}
}

// RangeRecords is Records bounded to [lo, hi]; a nil bound is unbounded on
// that side.
func (r *Reader) RangeRecords(lo, hi []byte) iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		_ = r.Range(lo, hi, yield)
	}
}

// RangeReverseRecords is RangeRecords in descending key order.
func (r *Reader) RangeReverseRecords(lo, hi []byte) iter.Seq[memtable.Record] {
	return func(yield func(memtable.Record) bool) {
		_ = r.RangeReverse(lo, hi, yield)
	}
}
