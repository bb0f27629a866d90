// Package delta implements a streaming, window-delta codec in the style
// of svndiff: a representation's bytes are encoded as a short sequence of
// "copy from source" and "insert literal" instructions against a base byte
// stream (Expand also accepts "copy from already-decoded target"
// instructions, which this Encoder never emits). RepWriter uses it to
// delta-encode representations against the base chosen by DeltaBase; a
// nil/empty source degenerates to an all-insert ("self-delta") stream.
package delta

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies the start of an encoded delta stream.
var Magic = [4]byte{'S', 'V', 'D', '0'}

type opcode byte

const (
	opCopySource opcode = 0
	opCopyTarget opcode = 1
	opInsert     opcode = 2
)

// minMatch is the shortest match worth encoding as a copy instruction
// rather than literal bytes; shorter matches cost more in instruction
// overhead than they save.
const minMatch = 8

// matchWindow is the length of the rolling hash key used to index the
// source for candidate matches.
const matchWindow = 16

// Encoder accumulates target bytes written to it and, on Close, emits the
// delta-encoded instruction stream to the underlying writer. Write never
// fails due to diffing: it only buffers. The actual diff against the
// source runs once, at Close, so a caller can still fan the same bytes
// out to hashers in-line with each Write call.
type Encoder struct {
	w      io.Writer
	source []byte
	target bytes.Buffer
	closed bool
}

// NewEncoder creates an Encoder that will diff written bytes against
// source (nil/empty for a self-delta) and write the encoded instruction
// stream to w when Close is called. scratch, if non-nil, seeds the
// target buffer's backing array so a caller pooling buffers across many
// representations can avoid growing one from zero every time.
func NewEncoder(w io.Writer, source, scratch []byte) *Encoder {
	e := &Encoder{w: w, source: source}
	if scratch != nil {
		e.target = *bytes.NewBuffer(scratch[:0])
	}
	return e
}

// Scratch returns the target buffer's backing array, reset to zero
// length but retaining its capacity, for a caller to return to a pool
// once it is done with this Encoder, whether that is after Close or
// after abandoning the Encoder before Close.
func (e *Encoder) Scratch() []byte {
	b := e.target.Bytes()
	return b[:0:cap(b)]
}

// Write buffers p for encoding. It always consumes all of p.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("delta: write after close")
	}
	return e.target.Write(p)
}

// Close runs the diff against the source and flushes the encoded
// instruction stream. It is idempotent.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return encode(e.w, e.source, e.target.Bytes())
}

// Len returns the number of target bytes written so far (pre-encoding),
// the "expanded_size" RepWriter needs once the stream closes.
func (e *Encoder) Len() int64 { return int64(e.target.Len()) }

func encode(w io.Writer, source, target []byte) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(Magic[:]); err != nil {
		return err
	}
	writeUvarint(bw, uint64(len(source)))
	writeUvarint(bw, uint64(len(target)))

	index := indexSource(source)

	pos := 0
	for pos < len(target) {
		if off, n := bestMatch(source, index, target, pos); n >= minMatch {
			writeOp(bw, opCopySource, uint64(off), uint64(n))
			pos += n
			continue
		}
		// No match: scan forward to the next position where a match
		// starts (or end of target), emitting one insert instruction for
		// the literal run.
		start := pos
		pos++
		for pos < len(target) {
			if _, n := bestMatch(source, index, target, pos); n >= minMatch {
				break
			}
			pos++
		}
		lit := target[start:pos]
		writeOp(bw, opInsert, 0, uint64(len(lit)))
		bw.Write(lit)
	}

	return bw.Flush()
}

// indexSource builds a map from a matchWindow-byte key to every
// occurrence offset in source, a minimal greedy-match index sufficient
// for representation-sized inputs.
func indexSource(source []byte) map[uint64][]int {
	idx := make(map[uint64][]int)
	if len(source) < matchWindow {
		return idx
	}
	for i := 0; i+matchWindow <= len(source); i++ {
		key := hashWindow(source[i : i+matchWindow])
		idx[key] = append(idx[key], i)
	}
	return idx
}

func hashWindow(b []byte) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211 // FNV prime
	}
	return h
}

// bestMatch returns the longest run starting at target[pos] that also
// occurs somewhere in source, and its source offset.
func bestMatch(source []byte, index map[uint64][]int, target []byte, pos int) (offset, length int) {
	if pos+matchWindow > len(target) || len(source) < matchWindow {
		return 0, 0
	}
	key := hashWindow(target[pos : pos+matchWindow])
	candidates, ok := index[key]
	if !ok {
		return 0, 0
	}
	best := 0
	bestOff := 0
	for _, off := range candidates {
		n := matchLength(source[off:], target[pos:])
		if n > best {
			best = n
			bestOff = off
		}
	}
	return bestOff, best
}

func matchLength(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func writeOp(w *bufio.Writer, op opcode, arg0, arg1 uint64) {
	w.WriteByte(byte(op))
	writeUvarint(w, arg0)
	writeUvarint(w, arg1)
}

func writeUvarint(w *bufio.Writer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

// Expand reconstructs the original target bytes from an encoded delta
// stream and its source, the inverse of Encoder/encode. Expand(Encode(C,
// B), B) == C is the core correctness property delta-base selection
// depends on.
func Expand(source []byte, delta io.Reader) ([]byte, error) {
	br := bufio.NewReader(delta)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("delta: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("delta: bad magic %x", magic)
	}
	srcLen, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("delta: reading source length: %w", err)
	}
	if int(srcLen) != len(source) {
		return nil, fmt.Errorf("delta: source length mismatch: header says %d, got %d", srcLen, len(source))
	}
	targetLen, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("delta: reading target length: %w", err)
	}

	out := make([]byte, 0, targetLen)
	for uint64(len(out)) < targetLen {
		opByte, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("delta: reading opcode: %w", err)
		}
		arg0, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("delta: reading arg0: %w", err)
		}
		arg1, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("delta: reading arg1: %w", err)
		}
		switch opcode(opByte) {
		case opCopySource:
			off, n := int(arg0), int(arg1)
			if off < 0 || off+n > len(source) {
				return nil, fmt.Errorf("delta: copy-source out of range")
			}
			out = append(out, source[off:off+n]...)
		case opCopyTarget:
			off, n := int(arg0), int(arg1)
			if off < 0 || off > len(out) {
				return nil, fmt.Errorf("delta: copy-target out of range")
			}
			for i := 0; i < n; i++ {
				out = append(out, out[off+i])
			}
		case opInsert:
			n := int(arg1)
			buf := make([]byte, n)
			if _, err := io.ReadFull(br, buf); err != nil {
				return nil, fmt.Errorf("delta: reading insert payload: %w", err)
			}
			out = append(out, buf...)
		default:
			return nil, fmt.Errorf("delta: unknown opcode %d", opByte)
		}
	}
	return out, nil
}
