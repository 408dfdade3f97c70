package memory

import (
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// classType denotes the power-of-two size class of a staging buffer.
type classType uint32

const (
	KiB uint64 = 1024
	MiB uint64 = 1024 * KiB

	// minimumClassSize is the smallest buffer the pool hands out.
	minimumClassSize uint64 = 512
	// maximumClassSize caps a single staging buffer.
	maximumClassSize uint64 = MiB
	// memoryClassNumber is the number of size classes between the minimum
	// and maximum, doubling at each step.
	memoryClassNumber = 12

	// DefaultPoolBudget bounds the bytes a pool may hold across leased and
	// recycled buffers unless overridden via OBJNS_POOL_BUDGET.
	DefaultPoolBudget = 64 * 1024 * 1024
)

var (
	// ErrInvalidBufferSize is returned for a zero-byte request or one past
	// the maximum class size.
	ErrInvalidBufferSize = errors.New("invalid buffer size")
	// ErrNotEnoughSpace is returned when satisfying a request would exceed
	// the pool budget.
	ErrNotEnoughSpace = errors.New("not enough space in the pool budget")
	// ErrNotAllocated is returned when releasing a region the pool does not
	// consider leased.
	ErrNotAllocated = errors.New("no buffer leased for the given region")
)

var poolBudget uint64 = DefaultPoolBudget

func init() {
	bS := os.Getenv("OBJNS_POOL_BUDGET")
	if len(bS) > 0 {
		bI, err := strconv.ParseUint(bS, 10, 64)
		if err != nil || bI < maximumClassSize {
			return
		}
		poolBudget = bI
	}
}

// GetBufferClassType returns the smallest class whose buffers hold size
// bytes. Sizes above the maximum class map to an invalid class number.
func GetBufferClassType(size uint64) classType {
	c := classType(0)
	for s := minimumClassSize; s < size; s <<= 1 {
		c++
	}
	return c
}

// GetBufferClassSize returns the buffer size backing the given class.
func GetBufferClassSize(c classType) (uint64, error) {
	if c >= memoryClassNumber {
		return 0, ErrInvalidBufferSize
	}
	return minimumClassSize << c, nil
}

// Region is one staging buffer leased from a PoolAllocator. It is owned by
// exactly one allocation at a time and must be handed back with Release.
type Region struct {
	class   classType
	backing []byte
	length  uint64
}

// Bytes returns the leased buffer trimmed to the requested size.
func (r *Region) Bytes() []byte {
	return r.backing[:r.length]
}

// Size returns the size requested when the region was leased.
func (r *Region) Size() uint64 {
	return r.length
}

type bufferPool struct {
	free []*Region
}

func newEmptyBufferPool() *bufferPool {
	return &bufferPool{}
}

// PoolAllocator hands out staging buffers in power-of-two size classes and
// recycles released buffers through per-class freelists. The byte budget
// covers leased and recycled buffers together, so a pool that has gone idle
// keeps its footprint but allocates nothing new.
type PoolAllocator struct {
	mu    sync.Mutex
	pools [memoryClassNumber]*bufferPool
	busy  map[*Region]struct{}
	// held is the number of bytes backing all regions, leased and free.
	held   uint64
	budget uint64
}

// NewPoolAllocator returns a pool bounded by the given budget. A zero
// budget uses OBJNS_POOL_BUDGET from the environment, or the default.
func NewPoolAllocator(budget uint64) *PoolAllocator {
	if budget == 0 {
		budget = poolBudget
	}
	return &PoolAllocator{
		busy:   make(map[*Region]struct{}),
		budget: budget,
	}
}

// Allocate leases a buffer of at least size bytes, recycling a previously
// released one when the class freelist has any.
func (pa *PoolAllocator) Allocate(size uint64) (*Region, error) {
	if size == 0 || size > maximumClassSize {
		return nil, ErrInvalidBufferSize
	}
	c := GetBufferClassType(size)
	clsSize, err := GetBufferClassSize(c)
	if err != nil {
		return nil, err
	}

	pa.mu.Lock()
	defer pa.mu.Unlock()

	if p := pa.pools[c]; p != nil && len(p.free) > 0 {
		r := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		r.length = size
		pa.busy[r] = struct{}{}
		return r, nil
	}

	if pa.held+clsSize > pa.budget {
		return nil, ErrNotEnoughSpace
	}
	r := &Region{
		class:   c,
		backing: make([]byte, clsSize),
		length:  size,
	}
	pa.held += clsSize
	pa.busy[r] = struct{}{}
	return r, nil
}

// Release zeroes a leased buffer and returns it to its class freelist.
func (pa *PoolAllocator) Release(r *Region) error {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	if _, ok := pa.busy[r]; !ok {
		return ErrNotAllocated
	}
	delete(pa.busy, r)

	clear(r.backing)
	r.length = 0

	if pa.pools[r.class] == nil {
		pa.pools[r.class] = newEmptyBufferPool()
	}
	p := pa.pools[r.class]
	p.free = append(p.free, r)
	return nil
}

// Busy returns the number of leased buffers not yet released.
func (pa *PoolAllocator) Busy() int {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	return len(pa.busy)
}
