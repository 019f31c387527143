package mbxio

// Bufpool caches byte slices for reuse as scratch space, e.g. while parsing
// header fields.
type Bufpool struct {
	c    chan []byte
	size int
}

// NewBufpool makes a new pool, initially empty, but holding at most "max"
// buffers with a capacity of "size" bytes each.
func NewBufpool(max, size int) *Bufpool {
	return &Bufpool{
		c:    make(chan []byte, max),
		size: size,
	}
}

// Get returns an empty buffer from the pool if available, otherwise allocates a
// new buffer. The buffer should be returned with Put.
func (b *Bufpool) Get() []byte {
	select {
	case buf := <-b.c:
		return buf[:0]
	default:
		return make([]byte, 0, b.size)
	}
}

// Put puts a "buf" back in the pool. Buffers that grew far beyond the pool size
// are left to the garbage collector, as is any buffer that doesn't fit in a
// full pool. The caller must no longer reference "buf" after a call to Put.
func (b *Bufpool) Put(buf []byte) {
	if cap(buf) < b.size || cap(buf) > 4*b.size {
		return
	}
	select {
	case b.c <- buf[:0]:
	default:
	}
}

// Arena hands out scratch buffers from a pool. Release returns all of them at
// once. An Arena is not safe for concurrent use.
type Arena struct {
	pool *Bufpool
	bufs []*[]byte
}

// Arena returns a new arena drawing from b.
func (b *Bufpool) Arena() *Arena {
	return &Arena{pool: b}
}

// Buf returns a new empty scratch buffer, valid until Release.
func (a *Arena) Buf() *[]byte {
	buf := a.pool.Get()
	p := &buf
	a.bufs = append(a.bufs, p)
	return p
}

// Release returns all buffers handed out by the arena to the pool. The arena
// can be reused afterwards.
func (a *Arena) Release() {
	for _, p := range a.bufs {
		a.pool.Put(*p)
		*p = nil
	}
	a.bufs = a.bufs[:0]
}
