package resilience

// ChunkBuffer is a fixed-capacity FIFO of raw audio chunks used to batch
// small capture ticks before a processing call. Pushing beyond capacity
// silently evicts the oldest chunk; draining returns the concatenation of the
// current contents and resets the buffer to empty.
//
// ChunkBuffer is not safe for concurrent use — confine it to the goroutine
// that owns the processing loop.
type ChunkBuffer struct {
	chunks   [][]byte
	capacity int
	bytes    int
}

// NewChunkBuffer creates a buffer holding at most capacity chunks.
// Capacities below one are clamped to one.
func NewChunkBuffer(capacity int) *ChunkBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ChunkBuffer{
		chunks:   make([][]byte, 0, capacity),
		capacity: capacity,
	}
}

// Push appends chunk. If the buffer is already at capacity the oldest chunk
// is evicted first; the return value reports whether an eviction happened.
func (b *ChunkBuffer) Push(chunk []byte) bool {
	evicted := false
	if len(b.chunks) == b.capacity {
		b.bytes -= len(b.chunks[0])
		copy(b.chunks, b.chunks[1:])
		b.chunks = b.chunks[:len(b.chunks)-1]
		evicted = true
	}
	b.chunks = append(b.chunks, chunk)
	b.bytes += len(chunk)
	return evicted
}

// Full reports whether the buffer holds capacity chunks.
func (b *ChunkBuffer) Full() bool { return len(b.chunks) == b.capacity }

// Len returns the number of resident chunks.
func (b *ChunkBuffer) Len() int { return len(b.chunks) }

// Bytes returns the total resident payload size in bytes.
func (b *ChunkBuffer) Bytes() int { return b.bytes }

// Drain returns the concatenation of all resident chunks in push order and
// resets the buffer to empty. Draining an empty buffer returns nil.
func (b *ChunkBuffer) Drain() []byte {
	if len(b.chunks) == 0 {
		return nil
	}
	out := make([]byte, 0, b.bytes)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = b.chunks[:0]
	b.bytes = 0
	return out
}
