package plan

// Recount recomputes every rollup counter in the tree from scratch. Counters
// present in a fetched snapshot are never trusted. Hidden rows and their
// subtrees do not count.
//
// The propagated counters (TotalTasks, DoneTasks, EnabledWhatsNextCount)
// cover the whole subtree and feed navigation. The Local* variants stop at
// nested panels so a panel can display its own tasks only.
func Recount(family []*Row) {
	for _, r := range family {
		recountRow(r)
	}
}

type tally struct {
	total    int
	done     int
	next     int
	comments int
	unread   int
	ownTotal int
	ownDone  int
	ownNext  int
}

func recountRow(r *Row) tally {
	var sub tally
	for _, child := range r.Children {
		if child == nil || !child.Visible {
			continue
		}
		c := recountRow(child)
		sub.total += c.total
		sub.done += c.done
		sub.next += c.next
		sub.comments += c.comments
		sub.unread += c.unread
		if child.Type != TypePanel {
			sub.ownTotal += c.ownTotal
			sub.ownDone += c.ownDone
			sub.ownNext += c.ownNext
		}
	}

	r.Counters = Counters{
		CommentsCount:              sub.comments,
		UnreadCommentsCount:        sub.unread,
		EnabledWhatsNextCount:      sub.next,
		DoneTasks:                  sub.done,
		TotalTasks:                 sub.total,
		LocalEnabledWhatsNextCount: sub.ownNext,
		LocalDoneTasks:             sub.ownDone,
		LocalTotalTasks:            sub.ownTotal,
	}

	// Fold this row in for its ancestors.
	switch r.Type {
	case TypeCheckbox:
		sub.total++
		sub.ownTotal++
		switch r.Checked {
		case CheckedDone:
			sub.done++
			sub.ownDone++
		case CheckedNext:
			sub.next++
			sub.ownNext++
		}
	case TypeComment:
		sub.comments++
		if r.Checked == Unread {
			sub.unread++
		}
	}
	return sub
}
