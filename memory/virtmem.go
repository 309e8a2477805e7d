package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const (
	PageSize = 4096

	// PhysBase is the first kernel address. Every user address is below it.
	PhysBase = 0xC0000000

	tlbEntries = 64
)

// PageDirectory is the address translation primitive the kernel consumes.
// Translate returns the kernel view of uaddr's page, starting at uaddr and
// running to the end of the page.
type PageDirectory interface {
	Translate(uaddr uint32) ([]byte, bool)
}

func PageRound(addr uint32) uint32 {
	return addr &^ (PageSize - 1)
}

func pageOffset(addr uint32) uint32 {
	return addr & (PageSize - 1)
}

func IsUserVaddr(addr uint32) bool {
	return addr < PhysBase
}

type Page struct {
	Start uint32

	linear []byte
}

func (pg *Page) Contains(x uint32) bool {
	return x >= pg.Start && x-pg.Start < PageSize
}

var ErrBadRegionRequest = errors.New("bad region request")

// VirtualMemory is a process's user address space. Pages are mapped one at
// a time; a small ARC cache sits in front of the page map the way a TLB
// sits in front of a page table.
type VirtualMemory struct {
	mu    sync.RWMutex
	pages map[uint32]*Page

	tlb *lru.ARCCache
}

func NewVirtualMemory() *VirtualMemory {
	tlb, err := lru.NewARC(tlbEntries)
	if err != nil {
		panic(err)
	}

	return &VirtualMemory{
		pages: make(map[uint32]*Page),
		tlb:   tlb,
	}
}

// Map maps the page containing addr. Mapping an already mapped page is a
// no-op.
func (vm *VirtualMemory) Map(addr uint32) (*Page, error) {
	if addr == 0 || !IsUserVaddr(addr) {
		return nil, errors.Wrapf(ErrBadRegionRequest, "map address=%#x", addr)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()

	start := PageRound(addr)

	if pg, ok := vm.pages[start]; ok {
		return pg, nil
	}

	pg := &Page{
		Start:  start,
		linear: make([]byte, PageSize),
	}

	vm.pages[start] = pg

	return pg, nil
}

func (vm *VirtualMemory) MapRange(addr, size uint32) error {
	if size == 0 {
		return nil
	}

	end := uint64(addr) + uint64(size)
	if end > PhysBase {
		return errors.Wrapf(ErrBadRegionRequest, "map range address=%#x, size=%#x", addr, size)
	}

	for pg := uint64(PageRound(addr)); pg < end; pg += PageSize {
		if _, err := vm.Map(uint32(pg)); err != nil {
			return err
		}
	}

	return nil
}

func (vm *VirtualMemory) Unmap(addr uint32) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	start := PageRound(addr)

	delete(vm.pages, start)
	vm.tlb.Remove(start)
}

// Release drops every mapping. The process is exiting.
func (vm *VirtualMemory) Release() {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.pages = make(map[uint32]*Page)
	vm.tlb.Purge()
}

// Size returns the number of mapped bytes.
func (vm *VirtualMemory) Size() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()

	return len(vm.pages) * PageSize
}

func (vm *VirtualMemory) findPage(addr uint32) (*Page, bool) {
	start := PageRound(addr)

	if v, ok := vm.tlb.Get(start); ok {
		return v.(*Page), true
	}

	vm.mu.RLock()
	defer vm.mu.RUnlock()

	pg, ok := vm.pages[start]
	if !ok {
		return nil, false
	}

	// Added under the read lock so a racing Unmap can't leave a stale entry.
	vm.tlb.Add(start, pg)

	return pg, true
}

func (vm *VirtualMemory) Translate(uaddr uint32) ([]byte, bool) {
	if !IsUserVaddr(uaddr) {
		return nil, false
	}

	pg, ok := vm.findPage(uaddr)
	if !ok {
		return nil, false
	}

	return pg.linear[pageOffset(uaddr):], true
}
