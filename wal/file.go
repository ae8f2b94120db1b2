package wal

import (
	"encoding/binary"
	"fmt"
)

// fileMagic identifies a jkv WAL file; fileVersion is bumped on incompatible
// layout changes.
const (
	fileMagic   uint32 = 0x4A57414C // "JWAL"
	fileVersion byte   = 1
)

// FileHeaderSize is the fixed prefix every WAL file begins with.
const FileHeaderSize = 4 + 1 + 3

func encodeFileHeader() []byte {
	buf := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], fileMagic)
	buf[4] = fileVersion
	return buf
}

func checkFileHeader(buf []byte) error {
	if len(buf) < FileHeaderSize {
		return fmt.Errorf("wal: file too small for header")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != fileMagic {
		return fmt.Errorf("wal: bad file magic")
	}
	if buf[4] != fileVersion {
		return fmt.Errorf("wal: unsupported file version %d", buf[4])
	}
	return nil
}
