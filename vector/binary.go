package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/opencaselaw/caselex/model"
)

// Binary layout (little-endian):
//
//	u32 dimension, u32 node count
//	u32 M, u32 efConstruction, u32 efSearch
//	u32 entry point, u32 max layer
//	per node:
//	  u32 clause id
//	  u32 top layer
//	  per layer 0..top: u32 neighbor count, u32 neighbor ids
//	  dim x f32 vector
//
// The graph itself is serialized, not its build input, so a reloaded
// index answers every query exactly like the one that was saved.

// Save writes the sealed graph.
func (idx *Index) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	for _, v := range []uint32{
		uint32(idx.dim),
		uint32(len(idx.nodes)),
		uint32(idx.opts.M),
		uint32(idx.opts.EfConstruction),
		uint32(idx.opts.EfSearch),
		idx.ep,
		uint32(idx.maxLayer),
	} {
		if err := writeU32(bw, v); err != nil {
			return err
		}
	}

	for i := range idx.nodes {
		n := &idx.nodes[i]
		if err := writeU32(bw, uint32(n.key)); err != nil {
			return err
		}
		if err := writeU32(bw, uint32(n.layer)); err != nil {
			return err
		}
		for l := 0; l <= n.layer; l++ {
			conns := n.connections[l]
			if err := writeU32(bw, uint32(len(conns))); err != nil {
				return err
			}
			for _, c := range conns {
				if err := writeU32(bw, c); err != nil {
					return err
				}
			}
		}
		for _, f := range n.vector {
			if err := writeU32(bw, math.Float32bits(f)); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// Load reads a graph previously written by Save.
func Load(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var hdr [7]uint32
	for i := range hdr {
		v, err := readU32(br)
		if err != nil {
			return nil, fmt.Errorf("vector: read header: %w", err)
		}
		hdr[i] = v
	}

	idx := &Index{
		dim: int(hdr[0]),
		opts: Options{
			M:              int(hdr[2]),
			EfConstruction: int(hdr[3]),
			EfSearch:       int(hdr[4]),
		},
		ep:       hdr[5],
		maxLayer: int(hdr[6]),
	}
	count := hdr[1]
	if count > 0 && hdr[5] >= count {
		return nil, fmt.Errorf("vector: entry point %d out of range", hdr[5])
	}

	idx.nodes = make([]node, count)
	for i := range idx.nodes {
		key, err := readU32(br)
		if err != nil {
			return nil, fmt.Errorf("vector: read node %d: %w", i, err)
		}
		layer, err := readU32(br)
		if err != nil {
			return nil, fmt.Errorf("vector: read node %d: %w", i, err)
		}

		n := node{
			key:         model.ClauseID(key),
			layer:       int(layer),
			connections: make([][]uint32, layer+1),
		}
		for l := 0; l <= n.layer; l++ {
			connCount, err := readU32(br)
			if err != nil {
				return nil, fmt.Errorf("vector: read node %d: %w", i, err)
			}
			conns := make([]uint32, connCount)
			for j := range conns {
				c, err := readU32(br)
				if err != nil {
					return nil, fmt.Errorf("vector: read node %d: %w", i, err)
				}
				if c >= count {
					return nil, fmt.Errorf("vector: node %d references node %d out of range", i, c)
				}
				conns[j] = c
			}
			n.connections[l] = conns
		}

		n.vector = make([]float32, idx.dim)
		for j := range n.vector {
			bits, err := readU32(br)
			if err != nil {
				return nil, fmt.Errorf("vector: read node %d: %w", i, err)
			}
			n.vector[j] = math.Float32frombits(bits)
		}

		idx.nodes[i] = n
	}

	return idx, nil
}

func writeU32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readU32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
