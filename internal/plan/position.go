package plan

import "math"

// EndPos is a synthetic position past any real sibling. Re-sorting a row to
// EndPos shifts every later sibling down by one, which is how deletion keeps
// positions dense.
const EndPos = math.MaxInt32

// ReSortFamily moves the sibling eid from oldPos to newPos. The moved row's
// pos must already be newPos. Every other sibling in the range between the
// two positions shifts by one toward the vacated slot, then the family is
// re-sorted. forceUp resolves the equal-position case by pushing siblings at
// or after newPos down.
func ReSortFamily(family []*Row, eid string, oldPos, newPos int, forceUp bool) {
	switch {
	case newPos > oldPos:
		for _, r := range family {
			if r.EID == eid {
				continue
			}
			if r.Pos > oldPos && r.Pos <= newPos {
				r.Pos--
			}
		}
	case newPos < oldPos:
		for _, r := range family {
			if r.EID == eid {
				continue
			}
			if r.Pos >= newPos && r.Pos < oldPos {
				r.Pos++
			}
		}
	case forceUp:
		for _, r := range family {
			if r.EID == eid {
				continue
			}
			if r.Pos >= newPos {
				r.Pos++
			}
		}
	}
	SortFamily(family)
}

// RemoveFromFamily takes eid out of family and closes the gap it leaves.
func RemoveFromFamily(family []*Row, eid string) ([]*Row, *Row) {
	idx, el := FindMember(family, eid)
	if el == nil {
		return family, nil
	}
	out := append(family[:idx:idx], family[idx+1:]...)
	for _, r := range out {
		if r.Pos > el.Pos {
			r.Pos--
		}
	}
	SortFamily(out)
	return out, el
}

// AddToFamily inserts el at pos, moving every sibling at or after pos up by
// one.
func AddToFamily(family []*Row, el *Row, pos int) []*Row {
	if pos < 0 {
		pos = 0
	}
	for _, r := range family {
		if r.Pos >= pos {
			r.Pos++
		}
	}
	el.Pos = pos
	out := append(family, el)
	SortFamily(out)
	return out
}

// InsertAt splices el into family at index el.Pos without touching sibling
// positions.
func InsertAt(family []*Row, el *Row) []*Row {
	idx := el.Pos
	if idx < 0 {
		idx = 0
	}
	if idx > len(family) {
		idx = len(family)
	}
	out := make([]*Row, 0, len(family)+1)
	out = append(out, family[:idx]...)
	out = append(out, el)
	out = append(out, family[idx:]...)
	return out
}

// DeleteMember drops eid from family without renumbering.
func DeleteMember(family []*Row, eid string) ([]*Row, bool) {
	idx, el := FindMember(family, eid)
	if el == nil {
		return family, false
	}
	return append(family[:idx:idx], family[idx+1:]...), true
}

// Renumber assigns dense positions in current pos order and reports the
// rows whose pos changed.
func Renumber(family []*Row) []*Row {
	SortFamily(family)
	var changed []*Row
	for i, r := range family {
		if r.Pos != i {
			r.Pos = i
			changed = append(changed, r)
		}
	}
	return changed
}

// NextPos is the position one past the last sibling.
func NextPos(family []*Row) int {
	next := 0
	for _, r := range family {
		if r.Pos >= next {
			next = r.Pos + 1
		}
	}
	return next
}
