package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/marcbinz/hlkv/hlog"
)

// indexMagic/logMagic and the version bytes frame each image with a
// fixed magic string and a version byte ahead of its length-prefixed
// body, so a reader can fail fast on a foreign or stale file rather than
// misparsing it.
const (
	indexMagic  = "HLKVIDX1"
	logMagic    = "HLKVLOG1"
	imageVersion = uint8(1)
)

// IndexImage is the logical content of an index checkpoint: the set of
// bucket-chain-head addresses live in the index at snapshot time (the
// index itself stores no key hashes, so that is all there is to persist
// - see index.Snapshot/index.Rebuild).
type IndexImage struct {
	Bits      uint
	Addresses []hlog.Address
}

// WriteIndexImage serializes img to w, buffered exactly like
// mapleImpl.Save.
func WriteIndexImage(w io.Writer, img IndexImage) error {
	bw := bufio.NewWriterSize(w, 1<<20)

	if _, err := bw.WriteString(indexMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, imageVersion); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(img.Bits)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(img.Addresses))); err != nil {
		return err
	}
	for _, addr := range img.Addresses {
		if err := binary.Write(bw, binary.LittleEndian, uint64(addr)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadIndexImage deserializes an IndexImage written by WriteIndexImage.
func ReadIndexImage(r io.Reader) (IndexImage, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return IndexImage{}, err
	}
	if string(magic) != indexMagic {
		return IndexImage{}, fmt.Errorf("checkpoint: invalid index image magic")
	}
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return IndexImage{}, err
	}
	if version != imageVersion {
		return IndexImage{}, fmt.Errorf("checkpoint: unsupported index image version %d", version)
	}
	var bits, count uint64
	if err := binary.Read(br, binary.LittleEndian, &bits); err != nil {
		return IndexImage{}, err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return IndexImage{}, err
	}
	addrs := make([]hlog.Address, count)
	for i := range addrs {
		var raw uint64
		if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
			return IndexImage{}, err
		}
		addrs[i] = hlog.Address(raw)
	}
	return IndexImage{Bits: uint(bits), Addresses: addrs}, nil
}

// SessionSerial records one session's persistent serial number as of a
// checkpoint (spec.md §4.7 phase 4's per-session callback).
type SessionSerial struct {
	GUID   uuid.UUID
	Serial uint64
}

// LogImage is the logical content of a hybrid-log checkpoint: the
// snapshot addresses from spec.md §4.7 phase 2 plus the per-session
// serials published during Prepare, and the raw resident log bytes from
// Head to TailAtCheckpoint needed to replay the suffix on Recover.
type LogImage struct {
	Begin           hlog.Address
	Head            hlog.Address
	ReadOnly        hlog.Address
	TailAtCheckpoint hlog.Address
	Version         uint64
	Sessions        []SessionSerial
	Suffix          []byte // the log bytes from Head to TailAtCheckpoint, contiguous
}

// WriteLogImage serializes img to w.
func WriteLogImage(w io.Writer, img LogImage) error {
	bw := bufio.NewWriterSize(w, 1<<20)

	if _, err := bw.WriteString(logMagic); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, imageVersion); err != nil {
		return err
	}
	for _, addr := range []hlog.Address{img.Begin, img.Head, img.ReadOnly, img.TailAtCheckpoint} {
		if err := binary.Write(bw, binary.LittleEndian, uint64(addr)); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, img.Version); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(img.Sessions))); err != nil {
		return err
	}
	for _, s := range img.Sessions {
		if _, err := bw.Write(s.GUID[:]); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, s.Serial); err != nil {
			return err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(img.Suffix))); err != nil {
		return err
	}
	if _, err := bw.Write(img.Suffix); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadLogImage deserializes a LogImage written by WriteLogImage.
func ReadLogImage(r io.Reader) (LogImage, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	magic := make([]byte, len(logMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return LogImage{}, err
	}
	if string(magic) != logMagic {
		return LogImage{}, fmt.Errorf("checkpoint: invalid log image magic")
	}
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return LogImage{}, err
	}
	if version != imageVersion {
		return LogImage{}, fmt.Errorf("checkpoint: unsupported log image version %d", version)
	}

	var img LogImage
	addrs := make([]*hlog.Address, 4)
	addrs[0], addrs[1], addrs[2], addrs[3] = &img.Begin, &img.Head, &img.ReadOnly, &img.TailAtCheckpoint
	for _, a := range addrs {
		var raw uint64
		if err := binary.Read(br, binary.LittleEndian, &raw); err != nil {
			return LogImage{}, err
		}
		*a = hlog.Address(raw)
	}
	if err := binary.Read(br, binary.LittleEndian, &img.Version); err != nil {
		return LogImage{}, err
	}
	var sessionCount uint64
	if err := binary.Read(br, binary.LittleEndian, &sessionCount); err != nil {
		return LogImage{}, err
	}
	img.Sessions = make([]SessionSerial, sessionCount)
	for i := range img.Sessions {
		if _, err := io.ReadFull(br, img.Sessions[i].GUID[:]); err != nil {
			return LogImage{}, err
		}
		if err := binary.Read(br, binary.LittleEndian, &img.Sessions[i].Serial); err != nil {
			return LogImage{}, err
		}
	}
	var suffixLen uint64
	if err := binary.Read(br, binary.LittleEndian, &suffixLen); err != nil {
		return LogImage{}, err
	}
	img.Suffix = make([]byte, suffixLen)
	if _, err := io.ReadFull(br, img.Suffix); err != nil {
		return LogImage{}, err
	}
	return img, nil
}
