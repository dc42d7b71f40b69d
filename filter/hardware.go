package filter

const (
	StandardMask uint32 = 0x7FF
	ExtendedMask uint32 = 0x1FFFFFFF
)

// IDMask is one acceptance entry of a controller or kernel filter:
// a frame passes when id&Mask == ID&Mask.
type IDMask struct {
	ID       uint32
	Mask     uint32
	Extended bool
}

// Hardware collects rules as id/mask pairs for one identifier width.
type Hardware struct {
	Extended bool
	Entries  []IDMask
}

func (h *Hardware) full() uint32 {
	if h.Extended {
		return ExtendedMask
	}
	return StandardMask
}

func (h *Hardware) MergeExact(id uint32) {
	h.Entries = append(h.Entries, IDMask{ID: id & h.full(), Mask: h.full(), Extended: h.Extended})
}

func (h *Hardware) MergeMask(id, mask uint32) {
	mask &= h.full()
	h.Entries = append(h.Entries, IDMask{ID: id & mask, Mask: mask, Extended: h.Extended})
}

// MergeInterval covers [from, to] with the minimal set of aligned prefixes.
func (h *Hardware) MergeInterval(from, to uint32) {
	full := h.full()
	if to > full {
		to = full
	}
	for from <= to {
		size := uint32(1)
		for {
			next := size << 1
			if next > full+1 || from%next != 0 || from+next-1 > to {
				break
			}
			size = next
		}
		h.Entries = append(h.Entries, IDMask{ID: from, Mask: full &^ (size - 1), Extended: h.Extended})
		if from+size-1 >= to {
			break
		}
		from += size
	}
}
