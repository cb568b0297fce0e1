package lexical

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opencaselaw/caselex/model"
)

// Binary layout (all integers little-endian or uvarint):
//
//	u32  term count
//	per term:
//	  uvarint shared   prefix length shared with the previous term
//	  uvarint suffix   remaining bytes
//	  bytes   suffix
//	  uvarint postings count
//	  per posting:
//	    uvarint doc delta (from previous posting's doc, first from 0)
//	    uvarint clause
//	    uvarint position
//
// Front coding keeps the dictionary compact: legal vocabularies are
// dominated by long shared stems.

// Save writes the index in its binary storage form.
func (idx *Index) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(idx.terms)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	var buf [binary.MaxVarintLen64]byte
	prev := ""
	for i, term := range idx.terms {
		shared := sharedPrefixLen(prev, term)
		if err := writeUvarint(bw, buf[:], uint64(shared)); err != nil {
			return err
		}
		if err := writeUvarint(bw, buf[:], uint64(len(term)-shared)); err != nil {
			return err
		}
		if _, err := bw.WriteString(term[shared:]); err != nil {
			return err
		}

		postings := idx.postings[i].Postings
		if err := writeUvarint(bw, buf[:], uint64(len(postings))); err != nil {
			return err
		}
		var prevDoc model.DocumentID
		for _, p := range postings {
			if err := writeUvarint(bw, buf[:], uint64(p.Doc-prevDoc)); err != nil {
				return err
			}
			if err := writeUvarint(bw, buf[:], uint64(p.Clause)); err != nil {
				return err
			}
			if err := writeUvarint(bw, buf[:], uint64(p.Position)); err != nil {
				return err
			}
			prevDoc = p.Doc
		}

		prev = term
	}

	return bw.Flush()
}

// Load reads an index previously written by Save. The reader must
// contain exactly one index; framing and checksums are the snapshot
// bundle's concern.
func Load(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("lexical: read header: %w", err)
	}
	count := binary.LittleEndian.Uint32(hdr[:])

	idx := &Index{
		terms:    make([]string, 0, count),
		postings: make([]PostingList, 0, count),
	}

	prev := ""
	for i := uint32(0); i < count; i++ {
		shared, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("lexical: read term %d: %w", i, err)
		}
		suffixLen, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("lexical: read term %d: %w", i, err)
		}
		if shared > uint64(len(prev)) {
			return nil, fmt.Errorf("lexical: term %d shares %d bytes but previous term has %d", i, shared, len(prev))
		}
		suffix := make([]byte, suffixLen)
		if _, err := io.ReadFull(br, suffix); err != nil {
			return nil, fmt.Errorf("lexical: read term %d: %w", i, err)
		}
		term := prev[:shared] + string(suffix)

		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("lexical: read postings of term %q: %w", term, err)
		}
		postings := make([]model.Posting, n)
		var doc model.DocumentID
		for j := range postings {
			delta, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, fmt.Errorf("lexical: read postings of term %q: %w", term, err)
			}
			clause, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, fmt.Errorf("lexical: read postings of term %q: %w", term, err)
			}
			position, err := binary.ReadUvarint(br)
			if err != nil {
				return nil, fmt.Errorf("lexical: read postings of term %q: %w", term, err)
			}
			doc += model.DocumentID(delta)
			postings[j] = model.Posting{
				Doc:      doc,
				Clause:   model.ClauseID(clause),
				Position: uint32(position),
			}
		}

		idx.terms = append(idx.terms, term)
		idx.postings = append(idx.postings, newPostingList(postings))
		prev = term
	}

	return idx, nil
}

func sharedPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func writeUvarint(w *bufio.Writer, buf []byte, v uint64) error {
	n := binary.PutUvarint(buf, v)
	_, err := w.Write(buf[:n])
	return err
}
