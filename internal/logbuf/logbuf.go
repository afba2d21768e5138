// Package logbuf provides the byte-level transaction log stream: a growable
// append buffer the instruction codec writes into during a write
// transaction, and block sources the replayer reads committed logs from.
package logbuf

// Buffer is a growable contiguous byte buffer with reserve/advance
// semantics. Callers must not assume a single allocation survives the whole
// log; the buffer may grow by reallocation, invalidating previously
// reserved regions that were not yet advanced over.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Reserve returns a writable region of exactly n bytes at the append
// position. The region only becomes part of the log after Advance.
func (b *Buffer) Reserve(n int) []byte {
	if cap(b.data)-len(b.data) < n {
		grown := make([]byte, len(b.data), grow(cap(b.data), len(b.data)+n))
		copy(grown, b.data)
		b.data = grown
	}
	return b.data[len(b.data) : len(b.data)+n]
}

// Advance commits n bytes previously written into a reserved region.
func (b *Buffer) Advance(n int) {
	b.data = b.data[:len(b.data)+n]
}

// Append copies p onto the end of the buffer.
func (b *Buffer) Append(p []byte) {
	region := b.Reserve(len(p))
	copy(region, p)
	b.Advance(len(p))
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	region := b.Reserve(1)
	region[0] = c
	b.Advance(1)
}

// Bytes returns the committed log contents. The slice aliases the buffer
// and is invalidated by further writes.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the committed length in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Reset discards the contents but keeps the allocation.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

func grow(current, need int) int {
	next := current * 2
	if next < 256 {
		next = 256
	}
	for next < need {
		next *= 2
	}
	return next
}

// BlockSource yields committed transaction logs one changeset at a time.
// NextBlock returns a nil block at end-of-input. Blocks are yielded without
// copying; callers must not retain them past the next call.
type BlockSource interface {
	NextBlock() ([]byte, error)
}

// singleBlock is a BlockSource over one contiguous changeset.
type singleBlock struct {
	data []byte
	done bool
}

// NewSingleSource returns a BlockSource yielding exactly one changeset.
func NewSingleSource(data []byte) BlockSource {
	return &singleBlock{data: data}
}

func (s *singleBlock) NextBlock() ([]byte, error) {
	if s.done {
		return nil, nil
	}
	s.done = true
	return s.data, nil
}

// multiBlock is a BlockSource over the concatenation of several committed
// transactions' logs.
type multiBlock struct {
	blocks [][]byte
	next   int
}

// NewMultiSource returns a BlockSource yielding each changeset in order.
func NewMultiSource(blocks [][]byte) BlockSource {
	return &multiBlock{blocks: blocks}
}

func (m *multiBlock) NextBlock() ([]byte, error) {
	for m.next < len(m.blocks) {
		block := m.blocks[m.next]
		m.next++
		if len(block) == 0 {
			continue
		}
		return block, nil
	}
	return nil, nil
}
