package ir

// poolPageSize is the number of T's allocated per arena page. Pages are
// fixed-size arrays behind stable pointers, so a *T handed out by allocate
// stays valid even as the pool grows — unlike a growing slice, which would
// invalidate every previously issued pointer on reallocation.
//
// Grounded on ssa/pool.go in the teacher: the same arena-of-fixed-pages
// shape, generalized with Go generics.
const poolPageSize = 128

type pool[T any] struct {
	pages     []*[poolPageSize]T
	allocated int
	index     int
}

func newPool[T any]() pool[T] {
	return pool[T]{index: poolPageSize}
}

// allocate returns a pointer to a fresh, zero-valued T. The pointer is
// stable for the lifetime of the pool.
func (p *pool[T]) allocate() *T {
	if p.index == poolPageSize {
		if n := len(p.pages); n < cap(p.pages) && p.pages[:n+1][n] != nil {
			p.pages = p.pages[:n+1] // reuse a page kept by reset
		} else {
			p.pages = append(p.pages, new([poolPageSize]T))
		}
		p.index = 0
	}
	page := p.pages[len(p.pages)-1]
	ret := &page[p.index]
	p.index++
	p.allocated++
	return ret
}

// view returns the i-th allocated T, indexed in allocation order.
func (p *pool[T]) view(i int) *T {
	return &p.pages[i/poolPageSize][i%poolPageSize]
}

// Allocated is the number of T's allocated since the last reset.
func (p *pool[T]) Allocated() int { return p.allocated }

// reset releases every allocation, but keeps the backing pages so a
// subsequent build of the next function reuses the same memory — mirroring
// the teacher's free-list-via-pool-reuse lifecycle (spec.md §3.2 "Lifecycle").
func (p *pool[T]) reset() {
	for _, page := range p.pages {
		var zero T
		for i := range page {
			page[i] = zero
		}
	}
	p.pages = p.pages[:0]
	p.index = poolPageSize
	p.allocated = 0
}
