// Package db presents the embedded key-value store's operational API
// (Open, Put, Delete, Get, Range, Prefix, Flush, Compact, Maintain,
// Close) and sequences the internals: WAL, memtables, the level tree,
// and the compactor. Grounded on spec §4.11's operation list and
// recovery sequencing, with lifecycle logging in the teacher's zerolog
// idiom and github.com/pkg/errors wrapping at every package boundary,
// matching the rest of this tree (see wal, lsm).
package db

import (
	"github.com/return2faye/jkv/lsm"
	"github.com/return2faye/jkv/sstable"
	"github.com/return2faye/jkv/sstable/cuckoo"
	"github.com/return2faye/jkv/wal"
)

// Options enumerates every configuration knob spec §6 names, with the
// spec's defaults.
type Options struct {
	MemtableSizeBytes      int64
	L0Threshold            int
	LevelRatio             int64
	FileCacheCapacity      int
	WALMaxSize             uint64
	WALWriteQueue          int
	BlockSize              int
	RestartInterval        int
	CuckooFPP              float64
	CuckooEntriesPerBucket int
	CuckooMaxKicks         int
	PGMEpsilon             int
	BlockCompression       byte // sstable.CompressionNone (default) or sstable.CompressionZstd
}

// DefaultOptions returns spec §6's defaults.
func DefaultOptions() Options {
	return Options{
		MemtableSizeBytes:      64 << 20,
		L0Threshold:            lsm.DefaultL0Threshold,
		LevelRatio:             lsm.DefaultLevelRatio,
		FileCacheCapacity:      16,
		WALMaxSize:             wal.DefaultMaxSize,
		WALWriteQueue:          wal.DefaultWriteQueue,
		BlockSize:              sstable.DefaultBlockSize,
		RestartInterval:        sstable.DefaultRestartInterval,
		CuckooFPP:              cuckoo.DefaultFPP,
		CuckooEntriesPerBucket: cuckoo.DefaultEntriesPerBucket,
		CuckooMaxKicks:         cuckoo.DefaultMaxKicks,
		PGMEpsilon:             sstable.DefaultPGMEpsilon,
		BlockCompression:       sstable.CompressionNone,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MemtableSizeBytes <= 0 {
		o.MemtableSizeBytes = d.MemtableSizeBytes
	}
	if o.L0Threshold <= 0 {
		o.L0Threshold = d.L0Threshold
	}
	if o.LevelRatio <= 0 {
		o.LevelRatio = d.LevelRatio
	}
	if o.FileCacheCapacity <= 0 {
		o.FileCacheCapacity = d.FileCacheCapacity
	}
	if o.WALMaxSize == 0 {
		o.WALMaxSize = d.WALMaxSize
	}
	if o.WALWriteQueue <= 0 {
		o.WALWriteQueue = d.WALWriteQueue
	}
	if o.BlockSize <= 0 {
		o.BlockSize = d.BlockSize
	}
	if o.RestartInterval <= 0 {
		o.RestartInterval = d.RestartInterval
	}
	if o.CuckooFPP <= 0 || o.CuckooFPP > 1 {
		o.CuckooFPP = d.CuckooFPP
	}
	if o.CuckooEntriesPerBucket <= 0 {
		o.CuckooEntriesPerBucket = d.CuckooEntriesPerBucket
	}
	if o.CuckooMaxKicks <= 0 {
		o.CuckooMaxKicks = d.CuckooMaxKicks
	}
	if o.PGMEpsilon <= 0 {
		o.PGMEpsilon = d.PGMEpsilon
	}
	if o.BlockCompression != sstable.CompressionNone && o.BlockCompression != sstable.CompressionZstd {
		o.BlockCompression = d.BlockCompression
	}
	return o
}

func (o Options) walOptions() wal.Options {
	return wal.Options{
		MaxSize:       o.WALMaxSize,
		FileCacheCap:  o.FileCacheCapacity,
		WriteQueueCap: o.WALWriteQueue,
	}
}

func (o Options) writerOptions() sstable.WriterOptions {
	return sstable.WriterOptions{
		BlockSize:              o.BlockSize,
		RestartInterval:        o.RestartInterval,
		FilterFPP:              o.CuckooFPP,
		FilterEntriesPerBucket: o.CuckooEntriesPerBucket,
		FilterMaxKicks:         o.CuckooMaxKicks,
		PGMEpsilon:             o.PGMEpsilon,
		BlockCompression:       o.BlockCompression,
	}
}

func (o Options) levelOptions() lsm.Options {
	return lsm.Options{
		MemThreshold: o.MemtableSizeBytes,
		L0Threshold:  o.L0Threshold,
		LevelRatio:   o.LevelRatio,
	}
}
