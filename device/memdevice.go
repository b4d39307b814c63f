package device

import "fmt"

// MemDevice is a plain byte-slice backed Device. It exists so engine tests
// never need a real file or block device.
type MemDevice struct {
	blockSize uint32
	blocks    [][]byte
}

// NewMemDevice allocates a zeroed device with room for numBlocks blocks.
func NewMemDevice(numBlocks uint64, blockSize uint32) *MemDevice {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &MemDevice{blockSize: blockSize, blocks: blocks}
}

func (m *MemDevice) BlockSize() uint32 { return m.blockSize }

func (m *MemDevice) ReadBlock(pblock uint64) ([]byte, error) {
	if pblock >= uint64(len(m.blocks)) {
		return nil, fmt.Errorf("reading block %d: out of range (%d blocks)", pblock, len(m.blocks))
	}
	out := make([]byte, m.blockSize)
	copy(out, m.blocks[pblock])
	return out, nil
}

func (m *MemDevice) WriteBlock(pblock uint64, data []byte) error {
	if pblock >= uint64(len(m.blocks)) {
		return fmt.Errorf("writing block %d: out of range (%d blocks)", pblock, len(m.blocks))
	}
	if uint32(len(data)) != m.blockSize {
		return fmt.Errorf("writing block %d: payload is %d bytes, want %d", pblock, len(data), m.blockSize)
	}
	buf := make([]byte, m.blockSize)
	copy(buf, data)
	m.blocks[pblock] = buf
	return nil
}
