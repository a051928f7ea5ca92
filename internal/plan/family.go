package plan

import "sort"

// FindMember locates a row by eid within one sibling array.
func FindMember(family []*Row, eid string) (int, *Row) {
	for i, r := range family {
		if r != nil && r.EID == eid {
			return i, r
		}
	}
	return -1, nil
}

// FindBranch searches the whole tree below family, depth first.
func FindBranch(family []*Row, eid string) *Row {
	for _, r := range family {
		if r == nil {
			continue
		}
		if r.EID == eid {
			return r
		}
		if found := FindBranch(r.Children, eid); found != nil {
			return found
		}
	}
	return nil
}

// FindParent returns the row whose children contain eid, or nil.
func FindParent(parent *Row, eid string) *Row {
	if parent == nil {
		return nil
	}
	for _, r := range parent.Children {
		if r == nil {
			continue
		}
		if r.EID == eid {
			return parent
		}
		if found := FindParent(r, eid); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits every row below family in pre-order.
func Walk(family []*Row, fn func(r *Row)) {
	for _, r := range family {
		if r == nil {
			continue
		}
		fn(r)
		Walk(r.Children, fn)
	}
}

// IsAncestor reports whether ancestorEID is eid itself or one of its
// ancestors within the tree rooted at root.
func IsAncestor(root *Row, ancestorEID, eid string) bool {
	if ancestorEID == eid {
		return true
	}
	anc := FindBranch(root.Children, ancestorEID)
	if anc == nil {
		return false
	}
	return FindBranch(anc.Children, eid) != nil
}

// SortFamily orders siblings by pos. The sort is stable so ties keep their
// current relative order.
func SortFamily(family []*Row) {
	sort.SliceStable(family, func(i, j int) bool {
		return family[i].Pos < family[j].Pos
	})
}

// SortTree sorts every sibling array in the tree.
func SortTree(family []*Row) {
	SortFamily(family)
	for _, r := range family {
		SortTree(r.Children)
	}
}

// BuildTree assembles flat rows into sibling arrays keyed off RootPID.
// Rows whose parent is missing are dropped.
func BuildTree(flat []*Row) []*Row {
	byParent := make(map[string][]*Row, len(flat))
	for _, r := range flat {
		pid := r.PID
		if pid == "" {
			pid = RootPID
		}
		byParent[pid] = append(byParent[pid], r)
	}
	var attach func(pid string, seen map[string]bool) []*Row
	attach = func(pid string, seen map[string]bool) []*Row {
		children := byParent[pid]
		out := make([]*Row, 0, len(children))
		for _, child := range children {
			if seen[child.EID] {
				continue
			}
			seen[child.EID] = true
			child.Children = attach(child.EID, seen)
			out = append(out, child)
		}
		SortFamily(out)
		return out
	}
	return attach(RootPID, make(map[string]bool, len(flat)))
}
