package vm

import "github.com/pkg/errors"

// segmentSlot is either a live segment (present=true) or an
// unmapped slot kept as a placeholder so that identifiers remain
// stable across unmap/remap cycles.
type segmentSlot struct {
	present bool
	words   []Word
}

// Memory owns the VM's segment table: a mapping from segment
// identifier to either a live segment or an unmapped slot, plus the
// LIFO free list of identifiers available for reuse. Identifier 0 is
// always the program segment and must remain live for the lifetime of
// the VM.
type Memory struct {
	slots    []segmentSlot
	freeList []Word
}

func (mem *Memory) init() {
	mem.slots = []segmentSlot{{present: true, words: nil}}
	mem.freeList = make([]Word, 0, FreeListCapacity)
}

// installProgram replaces the contents of segment 0 in place,
// without touching the free list or any other segment. Used both by
// LoadProgram (initial load) and by CloneIntoProgram.
func (mem *Memory) installProgram(words []Word) {
	if len(mem.slots) == 0 {
		mem.init()
	}
	mem.slots[0] = segmentSlot{present: true, words: words}
}

func (mem *Memory) program() []Word {
	return mem.slots[0].words
}

func (mem *Memory) segmentCount() int {
	return len(mem.slots)
}

// MapSegment allocates a zero-filled segment of the given size in
// words and returns its identifier. If the free list is nonempty, the
// most recently freed identifier is reused (LIFO); otherwise a fresh
// identifier is appended. MapSegment never returns identifier 0.
//
// A request for an unreasonable size is never silently truncated. If
// make panics on the requested length (e.g. a length the runtime
// rejects as out of range), the panic is recovered and reported as an
// ErrFault error. A runtime out-of-memory condition is not a panic and
// is not recovered: it still terminates the process.
func (mem *Memory) MapSegment(size Word) (id Word, err error) {
	words, err := allocSegment(size)
	if err != nil {
		return 0, err
	}
	if n := len(mem.freeList); n > 0 {
		id = mem.freeList[n-1]
		mem.freeList = mem.freeList[:n-1]
		mem.slots[id] = segmentSlot{present: true, words: words}
		return id, nil
	}
	mem.slots = append(mem.slots, segmentSlot{present: true, words: words})
	return Word(len(mem.slots) - 1), nil
}

// allocSegment allocates a zero-filled word slice, converting a panic
// raised by make into an error.
func allocSegment(size Word) (words []Word, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrFault, "cannot allocate segment of %d words: %v", size, r)
		}
	}()
	return make([]Word, size), nil
}

// UnmapSegment clears the slot for id and pushes id onto the free
// list for future reuse. Unmapping identifier 0 or an identifier that
// is not currently live is fatal.
func (mem *Memory) UnmapSegment(id Word) error {
	if id == 0 {
		return ErrUnmapProgramSegment
	}
	if err := mem.checkLive(id); err != nil {
		return err
	}
	mem.slots[id] = segmentSlot{}
	mem.freeList = append(mem.freeList, id)
	return nil
}

// Read returns the word at offset in segment id.
func (mem *Memory) Read(id, offset Word) (Word, error) {
	if err := mem.checkLive(id); err != nil {
		return 0, err
	}
	words := mem.slots[id].words
	if int(offset) >= len(words) {
		return 0, errors.Wrapf(ErrOutOfBounds, "segment %d has %d words", id, len(words))
	}
	return words[offset], nil
}

// Write stores word at offset in segment id.
func (mem *Memory) Write(id, offset, word Word) error {
	if err := mem.checkLive(id); err != nil {
		return err
	}
	words := mem.slots[id].words
	if int(offset) >= len(words) {
		return errors.Wrapf(ErrOutOfBounds, "segment %d has %d words", id, len(words))
	}
	words[offset] = word
	return nil
}

// CloneIntoProgram deep-copies segment id's contents into segment 0,
// replacing whatever program was previously loaded there. The copy
// means segment id may be safely unmapped afterward without affecting
// the running program.
func (mem *Memory) CloneIntoProgram(id Word) error {
	if err := mem.checkLive(id); err != nil {
		return err
	}
	src := mem.slots[id].words
	dup := make([]Word, len(src))
	copy(dup, src)
	mem.installProgram(dup)
	return nil
}

func (mem *Memory) checkLive(id Word) error {
	if int(id) >= len(mem.slots) || !mem.slots[id].present {
		return errors.Wrapf(ErrUnmappedSegment, "id=%d", id)
	}
	return nil
}
