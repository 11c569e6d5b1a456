package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Snapshot container constants.
const (
	SnapshotMagic      = "CRMB"
	SnapshotVersion    = 1
	SnapshotHeaderSize = 64

	// maxSnapshotRaw bounds the decompressed payload a header may announce.
	maxSnapshotRaw = 1 << 30
	// maxLZ4Ratio is the largest expansion an LZ4 block can encode.
	maxLZ4Ratio = 255
)

var (
	ErrBadMagic       = errors.New("store: not a snapshot file")
	ErrBadVersion     = errors.New("store: unsupported snapshot version")
	ErrChecksum       = errors.New("store: snapshot checksum mismatch")
	ErrTruncated      = errors.New("store: snapshot truncated")
	ErrCorruptPayload = errors.New("store: snapshot payload corrupt")
)

// SnapshotHeader is the fixed-size header in front of every snapshot payload.
//
// Layout (big endian):
//
//	0..4   magic "CRMB"
//	4..8   container version
//	8      compression
//	9..16  reserved
//	16..24 stored payload length
//	24..32 uncompressed payload length
//	32..36 CRC32 (IEEE) of the stored payload
//	36..44 saved at, Unix nanoseconds
//	44..48 CRC32 (IEEE) of bytes 0..44
//	48..64 reserved
type SnapshotHeader struct {
	Version     uint32
	Compression Compression
	StoredLen   uint64
	RawLen      uint64
	CRC32       uint32
	SavedAt     time.Time
}

func (h SnapshotHeader) marshal() []byte {
	buf := make([]byte, SnapshotHeaderSize)
	copy(buf[0:4], SnapshotMagic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	buf[8] = byte(h.Compression)
	binary.BigEndian.PutUint64(buf[16:24], h.StoredLen)
	binary.BigEndian.PutUint64(buf[24:32], h.RawLen)
	binary.BigEndian.PutUint32(buf[32:36], h.CRC32)
	binary.BigEndian.PutUint64(buf[36:44], uint64(h.SavedAt.UnixNano()))
	binary.BigEndian.PutUint32(buf[44:48], crc32.ChecksumIEEE(buf[:44]))
	return buf
}

func parseHeader(buf []byte) (SnapshotHeader, error) {
	var h SnapshotHeader
	if len(buf) < SnapshotHeaderSize {
		return h, fmt.Errorf("%w: %d byte header", ErrTruncated, len(buf))
	}
	if string(buf[0:4]) != SnapshotMagic {
		return h, ErrBadMagic
	}
	h.Version = binary.BigEndian.Uint32(buf[4:8])
	if h.Version != SnapshotVersion {
		return h, fmt.Errorf("%w: got %d, expected %d", ErrBadVersion, h.Version, SnapshotVersion)
	}
	if want, got := binary.BigEndian.Uint32(buf[44:48]), crc32.ChecksumIEEE(buf[:44]); got != want {
		return h, fmt.Errorf("%w: header crc %08x, expected %08x", ErrChecksum, got, want)
	}
	h.Compression = Compression(buf[8])
	h.StoredLen = binary.BigEndian.Uint64(buf[16:24])
	h.RawLen = binary.BigEndian.Uint64(buf[24:32])
	h.CRC32 = binary.BigEndian.Uint32(buf[32:36])
	h.SavedAt = time.Unix(0, int64(binary.BigEndian.Uint64(buf[36:44])))
	return h, h.check()
}

// check rejects lengths no snapshot writer produces.
func (h SnapshotHeader) check() error {
	switch {
	case h.RawLen > maxSnapshotRaw || h.StoredLen > maxSnapshotRaw:
		return fmt.Errorf("%w: %d byte payload announced", ErrCorruptPayload, h.RawLen)
	case h.Compression == CompressionNone && h.RawLen != h.StoredLen:
		return fmt.Errorf("%w: raw length %d, stored %d", ErrCorruptPayload, h.RawLen, h.StoredLen)
	case h.Compression == CompressionLZ4 && h.RawLen > h.StoredLen*maxLZ4Ratio:
		return fmt.Errorf("%w: lz4 cannot expand %d bytes to %d", ErrCorruptPayload, h.StoredLen, h.RawLen)
	}
	return nil
}

// SnapshotFile keeps the serialized event log in a single file. Saves write a
// temporary file next to the target and rename it into place, so a reader
// sees either the previous snapshot or the new one.
type SnapshotFile struct {
	path        string
	compression Compression
	now         func() time.Time
}

// NewSnapshotFile returns a SnapshotFile at path that compresses with c.
func NewSnapshotFile(path string, c Compression) *SnapshotFile {
	return &SnapshotFile{path: path, compression: c, now: time.Now}
}

// Path returns the snapshot location.
func (f *SnapshotFile) Path() string { return f.path }

// Save replaces the snapshot with data.
func (f *SnapshotFile) Save(data []byte) error {
	stored, used, err := compress(f.compression, data)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	h := SnapshotHeader{
		Version:     SnapshotVersion,
		Compression: used,
		StoredLen:   uint64(len(stored)),
		RawLen:      uint64(len(data)),
		CRC32:       crc32.ChecksumIEEE(stored),
		SavedAt:     f.now(),
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(h.marshal()); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := tmp.Write(stored); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot payload: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load returns the payload of the current snapshot, or nil with no error
// when no snapshot has been saved yet.
func (f *SnapshotFile) Load() ([]byte, error) {
	data, _, err := f.read()
	return data, err
}

// Stat returns the header of the current snapshot without decompressing it.
func (f *SnapshotFile) Stat() (*SnapshotHeader, error) {
	buf, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	h, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (f *SnapshotFile) read() ([]byte, *SnapshotHeader, error) {
	buf, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	h, err := parseHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	payload := buf[SnapshotHeaderSize:]
	if uint64(len(payload)) != h.StoredLen {
		return nil, nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrTruncated, len(payload), h.StoredLen)
	}
	if crc := crc32.ChecksumIEEE(payload); crc != h.CRC32 {
		return nil, nil, fmt.Errorf("%w: got %08x, expected %08x", ErrChecksum, crc, h.CRC32)
	}
	data, err := decompress(h.Compression, payload, int(h.RawLen))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return data, &h, nil
}
