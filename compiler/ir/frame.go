package ir

import (
	"strconv"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Frame is the layout of one activation.
	// Cells are capability-sized and handed out with increasing offsets.
	// The first Arguments bytes belong to frame-resident parameters
	// which the caller writes before the call.
	Frame struct {
		Arguments int
		Size      int
	}

	// Bag hands out names unique within one allocation scope.
	Bag struct {
		used map[string]struct{}
		next map[string]int
	}
)

const SlotSize = 16

// Allocate appends a fresh cell.
func (f *Frame) Allocate() FrameCell {
	c := FrameCell{Offset: f.Size}
	f.Size += SlotSize

	return c
}

// SavedFramePointer is the cell holding the caller's frame base.
// It follows the argument segment.
func (f Frame) SavedFramePointer() FrameCell {
	return FrameCell{Offset: f.Arguments}
}

func (f Frame) SavedReturnAddress() FrameCell {
	return FrameCell{Offset: f.Arguments + SlotSize}
}

func (f Frame) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyInt(b, "arguments", f.Arguments)
	b = e.AppendKeyInt(b, "size", f.Size)

	return b
}

func NewBag() *Bag {
	return &Bag{
		used: make(map[string]struct{}),
		next: make(map[string]int),
	}
}

// Add marks names as taken.
func (b *Bag) Add(names ...string) {
	for _, n := range names {
		b.used[n] = struct{}{}
	}
}

func (b *Bag) Contains(name string) bool {
	_, ok := b.used[name]
	return ok
}

// Unique returns base itself if it's free, base$N otherwise,
// and marks the result as taken.
func (b *Bag) Unique(base string) Abstract {
	name := base

	for b.Contains(name) {
		b.next[base]++
		name = base + "$" + strconv.Itoa(b.next[base])
	}

	b.Add(name)

	return Abstract(name)
}

// EntryPoint names the routine a program's top-level effect becomes.
const EntryPoint = "main"
