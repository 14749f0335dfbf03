package symbmc

import (
	"fmt"
)

// Array is the byte-addressable backing store for a memory object: a
// stack variable, a heap allocation, or a global. Multi-byte reads and
// writes decompose into per-byte Select/Store chains here, since C lets a
// program alias an object through any width or endianness it likes.
//
// Base anchors the array to its owning MemObject's absolute address (see
// state.go). Select/Store accept the pointer's full runtime address, not
// an already-object-relative offset, and translate it to a zero-based
// byte index by subtracting Base themselves — the object-relative-vs-
// absolute-addressing split that used to live entirely in the executor's
// dereference path is now something the array itself understands, so a
// caller holding a raw C pointer value never has to know the object's
// base to index into it. Base is 0 for arrays that back a value directly
// (e.g. test fixtures with no owning object), which makes address and
// offset the same thing.
type Array struct {
	ID      uint64       // unique id
	Base    uint64       // owning object's absolute address, 0 if none
	Size    uint         // width, in bytes
	Updates *ArrayUpdate // linked list of symbolic updates
}

// NewArray returns a new Array of the given size with no owning object;
// addresses passed to Select/Store are treated as zero-based offsets.
func NewArray(id uint64, size uint) *Array {
	return NewObjectArray(id, 0, size)
}

// NewObjectArray returns a new Array of the given size backing an object
// whose absolute address is base, so Select/Store can be driven directly
// by a pointer's runtime address instead of a pre-subtracted offset.
func NewObjectArray(id, base uint64, size uint) *Array {
	return &Array{
		ID:   id,
		Base: base,
		Size: size,
	}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.ID != 0 {
		return fmt.Sprintf("(array #%d %d)", a.ID, a.Size)
	}
	return fmt.Sprintf("(array %d)", a.Size)
}

// Clone returns a copy of the array.
func (a *Array) Clone() *Array {
	return &Array{
		ID:      a.ID,
		Base:    a.Base,
		Size:    a.Size,
		Updates: a.Updates,
	}
}

// offset translates an address (absolute if Base != 0, already a
// zero-based offset otherwise) into the zero-based byte index Select and
// Store index by, and widens it to the array index width along the way.
func (a *Array) offset(addr Expr) Expr {
	addr = newZExtExpr(addr, Width64)
	if a.Base == 0 {
		return addr
	}
	return NewBinaryExpr(SUB, addr, NewConstantExpr64(a.Base))
}

// InBounds reports, as a boolean expression, whether reading or writing
// width bits at addr stays inside [Base, Base+Size) — the object-bounds
// check a raw offset-only array has no way to express, since it never
// knows where the object it backs actually starts or ends. A store through
// a value set ANDs this into each candidate's match, so it becomes part of
// the recorded `p ∈ targets` obligation and a C buffer overrun is an
// ordinary proof obligation instead of a Go-level panic. A load through a
// value set uses it only to yield the invalid value for an out-of-bounds
// read; no bounds assertion is recorded for a load.
func (a *Array) InBounds(addr Expr, width uint) Expr {
	nbytes := uint64(width) / 8
	if width == WidthBool {
		nbytes = 1
	}
	off := a.offset(addr)
	last := NewBinaryExpr(ADD, off, NewConstantExpr64(nbytes-1))
	return NewBinaryExpr(ULT, last, NewConstantExpr64(uint64(a.Size)))
}

// zero initializes all bytes to zero in-place. Panic if updates already exist.
func (a *Array) zero() {
	assert(a.Updates == nil, "symbmc.Array: cannot zero-initialize array with updates")
	for i := uint((0)); i < a.Size; i++ {
		a.storeByte(NewConstantExpr64(uint64(i)), NewConstantExpr(0, 8))
	}
}

// Select reads a value from the array at addr (a pointer's absolute
// address if the array has a non-zero Base, otherwise a zero-based
// offset), honoring the target's declared endianness (little for
// x86/ARM, big when -endian big is requested).
func (a *Array) Select(addr Expr, width uint, isLittleEndian bool) Expr {
	assert(width > 0, "select: invalid width")

	offset := a.offset(addr)

	if width == WidthBool {
		return NewExtractExpr(a.selectByte(offset), 0, WidthBool)
	}

	// Handle read byte-by-byte.
	var result Expr
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		byteOffset := i
		if !isLittleEndian {
			byteOffset = (n - i - 1)
		}

		value := a.selectByte(NewBinaryExpr(ADD, offset, NewConstantExpr64(byteOffset)))
		if i == 0 {
			result = value
		} else {
			result = NewConcatExpr(value, result)
		}
	}
	return result
}

// selectByte reads a single byte from the array.
//
// Attempts to find a concrete value by traversing the array update history.
// Falls back to a select expression if either the selected index or an update's
// index is symbolic.
func (a *Array) selectByte(index Expr) Expr {
	assert(ExprWidth(index) == 64, "selectByte: invalid array index width: %d", ExprWidth(index))
	for upd := a.Updates; upd != nil; upd = upd.Next {
		cond, ok := NewBinaryExpr(EQ, index, upd.Index).(*ConstantExpr)
		if !ok {
			break // found symbolic index, exit
		} else if cond.IsTrue() {
			return upd.Value
		}
	}
	return NewSelectExpr(a, index)
}

// Store writes a value at addr (a pointer's absolute address if the array
// has a non-zero Base, otherwise a zero-based offset). Returns a new copy
// of the array.
func (a *Array) Store(addr, value Expr, isLittleEndian bool) *Array {
	other := a.Clone()

	offset := a.offset(addr)

	// Treat bool specially, it is the only non-byte sized write we allow.
	width := ExprWidth(value)
	assert(width > 0, "store: invalid width")
	if width == WidthBool {
		other.storeByte(offset, value)
		return other
	}

	// Otherwise, follow the slow general case.
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		byteOffset := i
		if !isLittleEndian {
			byteOffset = (n - i - 1)
		}

		other.storeByte(NewBinaryExpr(ADD, offset, NewConstantExpr64(uint64(byteOffset))), NewExtractExpr(value, uint(i*8), Width8))
	}
	return other
}

// storeByte writes a single byte to the array.
func (a *Array) storeByte(index, value Expr) {
	assert(ExprWidth(index) == 64, "storeByte: invalid array index width: %d", ExprWidth(index))

	// Verify constant is not out of bounds.
	if index, ok := index.(*ConstantExpr); ok {
		assert(index.Value < uint64(a.Size), "storeByte: index out of bounds: %d < %d", index.Value, a.Size)
	}

	// Add update to the head of the chain.
	a.Updates = NewArrayUpdate(index, value, a.Updates)

	// Remove any previous updates to the index from the chain. The walked
	// prefix is copied node by node so that the removal never mutates a node
	// another array version (a Clone) still shares.
	if index, ok := index.(*ConstantExpr); ok {
		prev := a.Updates
		for upd := prev.Next; upd != nil; upd = upd.Next {
			if updIndex, ok := upd.Index.(*ConstantExpr); !ok {
				break // symbolic index
			} else if index.Value == updIndex.Value {
				prev.Next = upd.Next // matching index, remove
			} else {
				cp := *upd // no matching index, copy and continue
				prev.Next = &cp
				prev = &cp
			}
		}
	}
}

// IsSymbolic returns true if any bytes in the array are symbolic.
func (a *Array) IsSymbolic() bool {
	// Mark all bytes with concrete values.
	bytes := make([]bool, a.Size)
	for upd := a.Updates; upd != nil; upd = upd.Next {
		if index, ok := upd.Index.(*ConstantExpr); !ok {
			return true // found symbolic index
		} else if _, ok := upd.Value.(*ConstantExpr); ok {
			bytes[index.Value] = true // index & value are concrete
		}
	}

	for _, isConcrete := range bytes {
		if !isConcrete {
			return true
		}
	}
	return false
}

// Equal returns a boolean expression stating if a is equal to other.
func (a *Array) Equal(other *Array) Expr {
	// Length is known at runtime so verify first.
	if a.Size != other.Size {
		return NewBoolConstantExpr(false)
	} else if a.Size == 0 {
		return NewBoolConstantExpr(true)
	}

	// Check equality for every byte.
	// Exit early if any concrete byte is unequal.
	var cond Expr
	for i := uint(0); i < a.Size; i++ {
		// Select one at index from each array.
		index := NewConstantExpr64(uint64(i))
		x, y := a.selectByte(index), other.selectByte(index)

		// Compare bytes, exit if known false.
		expr := newEqExpr(x, y)
		if IsConstantFalse(expr) {
			return NewBoolConstantExpr(false)
		}

		// Initialize or join to existing constraint set.
		if i == 0 {
			cond = expr
		} else {
			cond = newAndExpr(cond, expr)
		}
	}
	return cond
}

// NotEqual returns a boolean expression stating if a is not equal to other.
func (a *Array) NotEqual(other *Array) Expr {
	// Length is known at runtime so verify first.
	if a.Size != other.Size {
		return NewBoolConstantExpr(true)
	} else if a.Size == 0 {
		return NewBoolConstantExpr(false)
	}

	// Check inequality for every byte.
	// Exit early if any concrete byte is unequal.
	var cond Expr
	for i := uint(0); i < a.Size; i++ {
		// Select one at index from each array.
		index := NewConstantExpr64(uint64(i))
		x, y := a.selectByte(index), other.selectByte(index)

		// Compare bytes, exit if known inequality.
		expr := NewNotExpr(newEqExpr(x, y))
		if IsConstantTrue(expr) {
			return NewBoolConstantExpr(true)
		}

		// Initialize or join to existing constraint set.
		if i == 0 {
			cond = expr
		} else {
			cond = newOrExpr(cond, expr)
		}
	}
	return cond
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if a.ID < b.ID {
		return -1
	} else if a.ID > b.ID {
		return 1
	}

	if a.Size < b.Size {
		return -1
	} else if a.Size > b.Size {
		return 1
	}

	return CompareArrayUpdate(a.Updates, b.Updates)
}

// ArrayUpdate represents a symbolic update to an array.
type ArrayUpdate struct {
	Index Expr // byte index of update
	Value Expr // byte value to update

	Next *ArrayUpdate // linked list of next update
}

// NewArrayUpdate returns a new instance of ArrayUpdate.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{
		Index: newZExtExpr(index, Width64),
		Value: newZExtExpr(value, Width8),
		Next:  next,
	}
}

// CompareArrayUpdate returns an integer comparing two array updates.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	} else if cmp := CompareExpr(a.Value, b.Value); cmp != 0 {
		return cmp
	}
	return CompareArrayUpdate(a.Next, b.Next)
}
