package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/opencaselaw/caselex/codec"
	"github.com/opencaselaw/caselex/lexical"
	"github.com/opencaselaw/caselex/model"
	"github.com/opencaselaw/caselex/persistence"
	"github.com/opencaselaw/caselex/vector"
)

// Bundle layout:
//  1. header (magic/format version/codec name/snapshot version)
//  2. lexical section (native binary)
//  3. vector section (native binary, lz4 frame), absent if no vectors
//  4. docs section (codec marshaled, zstd)
//  5. clauses section (codec marshaled, zstd)
//  6. directory (type/offset/length/CRC32 per section)
//  7. footer (directory offset/length/CRC32)
//
// Every section carries a CRC32 of its stored bytes. Any checksum,
// structural, or cross-reference failure rejects the bundle wholesale.

var (
	bundleMagic         = [4]byte{'C', 'L', 'X', '1'}
	bundleDirMagic      = [4]byte{'C', 'L', 'D', '1'}
	bundleFooterMagic   = [4]byte{'C', 'L', 'F', '1'}
	bundleFormatVersion = uint16(1)
)

const (
	sectionLexical = uint16(1)
	sectionVector  = uint16(2)
	sectionDocs    = uint16(3)
	sectionClauses = uint16(4)
)

type sectionEntry struct {
	Type     uint16
	Offset   uint64
	Len      uint64
	Checksum uint32
}

// BundleName returns the canonical blob name of a snapshot version.
// The zero-padded hex encoding makes lexicographic order equal
// version order.
func BundleName(version uint64) string {
	return fmt.Sprintf("snapshot-%016x.clx", version)
}

// ParseBundleName extracts the version from a canonical bundle name.
func ParseBundleName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, "snapshot-")
	if !ok {
		return 0, false
	}
	hex, ok := strings.CutSuffix(rest, ".clx")
	if !ok || len(hex) != 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// WriteBundle serializes the snapshot to w using c for the metadata
// tables. If c is nil, codec.Default is used.
func WriteBundle(w io.Writer, snap *Snapshot, c codec.Codec) error {
	if snap == nil {
		return fmt.Errorf("snapshot: nil snapshot")
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	if c == nil {
		c = codec.Default
	}
	codecName := c.Name()

	sectionCount := uint16(4)
	if snap.Vector == nil {
		sectionCount = 3
	}

	// Header (24 bytes + codec name)
	// [0:4]   magic
	// [4:6]   format version
	// [6:8]   reserved
	// [8:10]  codec name len
	// [10:12] section count
	// [12:16] reserved
	// [16:24] snapshot version
	var hdr [24]byte
	copy(hdr[0:4], bundleMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], bundleFormatVersion)
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(len(codecName)))
	binary.LittleEndian.PutUint16(hdr[10:12], sectionCount)
	binary.LittleEndian.PutUint64(hdr[16:24], snap.Version)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, codecName); err != nil {
		return err
	}

	cw := &countingWriter{w: w, n: int64(len(hdr)) + int64(len(codecName))}
	hw := persistence.NewChecksumWriter(cw)

	entries := make([]sectionEntry, 0, sectionCount)
	writeSection := func(typ uint16, data []byte) error {
		entry := sectionEntry{
			Type:   typ,
			Offset: uint64(cw.n),
			Len:    uint64(len(data)),
		}
		// Hash rides along the write; one pass over the section.
		hw.Reset()
		if _, err := hw.Write(data); err != nil {
			return err
		}
		entry.Checksum = hw.Sum()
		entries = append(entries, entry)
		return nil
	}

	var lexBuf bytes.Buffer
	if err := snap.Lexical.Save(&lexBuf); err != nil {
		return fmt.Errorf("snapshot: encode lexical section: %w", err)
	}
	if err := writeSection(sectionLexical, lexBuf.Bytes()); err != nil {
		return err
	}

	if snap.Vector != nil {
		data, err := compressLZ4(snap.Vector)
		if err != nil {
			return fmt.Errorf("snapshot: encode vector section: %w", err)
		}
		if err := writeSection(sectionVector, data); err != nil {
			return err
		}
	}

	docsBytes, err := c.Marshal(snap.Docs)
	if err != nil {
		return fmt.Errorf("snapshot: encode docs section: %w", err)
	}
	if err := writeSection(sectionDocs, zstdEncoder.EncodeAll(docsBytes, nil)); err != nil {
		return err
	}

	clausesBytes, err := c.Marshal(snap.Clauses)
	if err != nil {
		return fmt.Errorf("snapshot: encode clauses section: %w", err)
	}
	if err := writeSection(sectionClauses, zstdEncoder.EncodeAll(clausesBytes, nil)); err != nil {
		return err
	}

	dirOff := uint64(cw.n)
	var dirBuf bytes.Buffer
	if err := writeDirectory(&dirBuf, entries); err != nil {
		return err
	}
	if _, err := cw.Write(dirBuf.Bytes()); err != nil {
		return err
	}

	return writeFooter(cw, dirOff, uint64(dirBuf.Len()), persistence.ComputeChecksum(dirBuf.Bytes()))
}

func compressLZ4(idx *vector.Index) ([]byte, error) {
	var raw bytes.Buffer
	if err := idx.Save(&raw); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	zw := lz4.NewWriter(&out)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// ReadBundle parses and validates a serialized bundle. If c is nil
// the codec is selected by the name stored in the header. All
// failures surface as *InvalidSnapshotError.
func ReadBundle(data []byte, c codec.Codec) (*Snapshot, error) {
	version, codecName, sections, err := readDirectory(data)
	if err != nil {
		return nil, err
	}

	if c == nil {
		cc, ok := codec.ByName(codecName)
		if !ok {
			return nil, invalidf(nil, "unsupported codec %q", codecName)
		}
		c = cc
	} else if c.Name() != codecName {
		return nil, invalidf(nil, "bundle codec %q does not match provided codec %q", codecName, c.Name())
	}

	// sectionReader hands the decoder a checksumming reader over the
	// section bytes; the hash accumulates as the decoder consumes them.
	sectionReader := func(typ uint16, required bool) (*persistence.ChecksumReader, uint32, error) {
		entry, ok := sections[typ]
		if !ok {
			if required {
				return nil, 0, invalidf(nil, "missing section %d", typ)
			}
			return nil, 0, nil
		}
		raw := data[entry.Offset : entry.Offset+entry.Len]
		return persistence.NewChecksumReader(bytes.NewReader(raw)), entry.Checksum, nil
	}

	// verify drains whatever the decoder left unread, then checks the
	// streamed hash against the directory entry.
	verify := func(typ uint16, cr *persistence.ChecksumReader, want uint32) error {
		if _, err := io.Copy(io.Discard, cr); err != nil {
			return invalidf(err, "section %d", typ)
		}
		if err := cr.Verify(want); err != nil {
			return invalidf(err, "section %d", typ)
		}
		return nil
	}

	snap := &Snapshot{Version: version}

	// Sections are independent; decode them concurrently.
	var g errgroup.Group
	g.Go(func() error {
		cr, want, err := sectionReader(sectionLexical, true)
		if err != nil {
			return err
		}
		idx, lerr := lexical.Load(cr)
		if err := verify(sectionLexical, cr, want); err != nil {
			return err
		}
		if lerr != nil {
			return invalidf(lerr, "lexical section")
		}
		snap.Lexical = idx
		return nil
	})
	g.Go(func() error {
		cr, want, err := sectionReader(sectionVector, false)
		if err != nil || cr == nil {
			return err
		}
		decompressed, lerr := io.ReadAll(lz4.NewReader(cr))
		if err := verify(sectionVector, cr, want); err != nil {
			return err
		}
		if lerr != nil {
			return invalidf(lerr, "vector section")
		}
		idx, lerr := vector.Load(bytes.NewReader(decompressed))
		if lerr != nil {
			return invalidf(lerr, "vector section")
		}
		snap.Vector = idx
		return nil
	})
	g.Go(func() error {
		cr, want, err := sectionReader(sectionDocs, true)
		if err != nil {
			return err
		}
		raw, lerr := io.ReadAll(cr)
		if err := verify(sectionDocs, cr, want); err != nil {
			return err
		}
		if lerr != nil {
			return invalidf(lerr, "docs section")
		}
		docsBytes, lerr := zstdDecoder.DecodeAll(raw, nil)
		if lerr != nil {
			return invalidf(lerr, "docs section")
		}
		docs := make(map[model.DocumentID]model.Document)
		if err := c.Unmarshal(docsBytes, &docs); err != nil {
			return invalidf(err, "docs section")
		}
		snap.Docs = docs
		return nil
	})
	g.Go(func() error {
		cr, want, err := sectionReader(sectionClauses, true)
		if err != nil {
			return err
		}
		raw, lerr := io.ReadAll(cr)
		if err := verify(sectionClauses, cr, want); err != nil {
			return err
		}
		if lerr != nil {
			return invalidf(lerr, "clauses section")
		}
		clausesBytes, lerr := zstdDecoder.DecodeAll(raw, nil)
		if lerr != nil {
			return invalidf(lerr, "clauses section")
		}
		clauses := make(map[model.ClauseID]model.Clause)
		if err := c.Unmarshal(clausesBytes, &clauses); err != nil {
			return invalidf(err, "clauses section")
		}
		snap.Clauses = clauses
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func writeDirectory(w io.Writer, entries []sectionEntry) error {
	// Directory header (12 bytes)
	// [0:4] magic
	// [4:6] format version
	// [6:8] reserved
	// [8:12] entry count
	var hdr [12]byte
	copy(hdr[0:4], bundleDirMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], bundleFormatVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(entries)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	// Each entry is 32 bytes.
	// [0:2]   type
	// [2:4]   reserved
	// [4:8]   checksum (CRC32)
	// [8:16]  offset
	// [16:24] length
	// [24:32] reserved
	for _, e := range entries {
		var b [32]byte
		binary.LittleEndian.PutUint16(b[0:2], e.Type)
		binary.LittleEndian.PutUint32(b[4:8], e.Checksum)
		binary.LittleEndian.PutUint64(b[8:16], e.Offset)
		binary.LittleEndian.PutUint64(b[16:24], e.Len)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	return nil
}

func writeFooter(w io.Writer, dirOffset, dirLen uint64, dirSum uint32) error {
	// Footer is 28 bytes.
	// [0:4]   magic
	// [4:6]   format version
	// [6:8]   reserved
	// [8:16]  directory offset
	// [16:24] directory length
	// [24:28] directory checksum (CRC32)
	var b [28]byte
	copy(b[0:4], bundleFooterMagic[:])
	binary.LittleEndian.PutUint16(b[4:6], bundleFormatVersion)
	binary.LittleEndian.PutUint64(b[8:16], dirOffset)
	binary.LittleEndian.PutUint64(b[16:24], dirLen)
	binary.LittleEndian.PutUint32(b[24:28], dirSum)
	_, err := w.Write(b[:])
	return err
}

func readDirectory(data []byte) (version uint64, codecName string, sections map[uint16]sectionEntry, err error) {
	if len(data) < 24+28 {
		return 0, "", nil, invalidf(nil, "truncated bundle (%d bytes)", len(data))
	}

	if [4]byte(data[0:4]) != bundleMagic {
		return 0, "", nil, invalidf(nil, "bad magic")
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != bundleFormatVersion {
		return 0, "", nil, invalidf(nil, "unsupported format version %d", v)
	}
	nameLen := int(binary.LittleEndian.Uint16(data[8:10]))
	sectionCount := int(binary.LittleEndian.Uint16(data[10:12]))
	if sectionCount <= 0 {
		return 0, "", nil, invalidf(nil, "invalid section count %d", sectionCount)
	}
	version = binary.LittleEndian.Uint64(data[16:24])
	if len(data) < 24+nameLen {
		return 0, "", nil, invalidf(nil, "truncated header")
	}
	codecName = string(data[24 : 24+nameLen])

	foot := data[len(data)-28:]
	if [4]byte(foot[0:4]) != bundleFooterMagic {
		return 0, "", nil, invalidf(nil, "missing footer")
	}
	dirOff := binary.LittleEndian.Uint64(foot[8:16])
	dirLen := binary.LittleEndian.Uint64(foot[16:24])
	dirSum := binary.LittleEndian.Uint32(foot[24:28])
	dataEnd := uint64(len(data) - 28)
	if dirLen < 12 || dirOff > dataEnd || dirLen > dataEnd-dirOff {
		return 0, "", nil, invalidf(nil, "invalid directory range")
	}

	dir := data[dirOff : dirOff+dirLen]
	if actual := persistence.ComputeChecksum(dir); actual != dirSum {
		return 0, "", nil, invalidf(&persistence.ChecksumMismatchError{
			Expected: dirSum,
			Actual:   actual,
		}, "directory")
	}
	if [4]byte(dir[0:4]) != bundleDirMagic {
		return 0, "", nil, invalidf(nil, "bad directory magic")
	}
	count := int(binary.LittleEndian.Uint32(dir[8:12]))
	if count != sectionCount || uint64(12+count*32) != dirLen {
		return 0, "", nil, invalidf(nil, "directory size mismatch")
	}

	sections = make(map[uint16]sectionEntry, count)
	for i := 0; i < count; i++ {
		b := dir[12+i*32 : 12+(i+1)*32]
		e := sectionEntry{
			Type:     binary.LittleEndian.Uint16(b[0:2]),
			Checksum: binary.LittleEndian.Uint32(b[4:8]),
			Offset:   binary.LittleEndian.Uint64(b[8:16]),
			Len:      binary.LittleEndian.Uint64(b[16:24]),
		}
		if e.Offset > dataEnd || e.Len > dataEnd-e.Offset {
			return 0, "", nil, invalidf(nil, "section %d out of range", e.Type)
		}
		if _, dup := sections[e.Type]; dup {
			return 0, "", nil, invalidf(nil, "duplicate section %d", e.Type)
		}
		sections[e.Type] = e
	}
	return version, codecName, sections, nil
}
