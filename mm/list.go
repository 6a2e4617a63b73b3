package mm

import "fmt"

// PageList is an intrusive doubly-linked list of pages. Entries are
// added and removed in O(1) with no allocation; a page is a member of
// at most one list at a time, which is what lets the relocation
// protocol partition a batch by splicing pages between lists.
//
// The zero value is an empty list ready to use. Iterate with:
//
//	for p := l.Front(); p != nil; p = p.Next() { ... }
//
// saving p.Next() first when removing during iteration.
type PageList struct {
	head, tail *Page
}

// Reset empties the list without touching the pages' linkage.
func (l *PageList) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty reports whether the list has no pages.
func (l *PageList) Empty() bool { return l.head == nil }

// Front returns the first page or nil.
func (l *PageList) Front() *Page { return l.head }

// Back returns the last page or nil.
func (l *PageList) Back() *Page { return l.tail }

// Len counts the pages on the list. O(n).
func (l *PageList) Len() int {
	n := 0
	for p := l.head; p != nil; p = p.next {
		n++
	}

	return n
}

// PushBack appends p. The page must not be on any list.
func (l *PageList) PushBack(p *Page) {
	if p.list != nil {
		panic(fmt.Sprintf("mm: page %#x is already on a list", p.pfn))
	}

	p.list = l
	p.prev = l.tail
	p.next = nil

	if l.tail != nil {
		l.tail.next = p
	} else {
		l.head = p
	}

	l.tail = p
}

// PushBackList appends every page of other to l and empties other.
func (l *PageList) PushBackList(other *PageList) {
	for p := other.Front(); p != nil; {
		next := p.next
		other.Remove(p)
		l.PushBack(p)
		p = next
	}
}

// Remove unlinks p, which must be on l.
func (l *PageList) Remove(p *Page) {
	if p.list != l {
		panic(fmt.Sprintf("mm: page %#x is not on this list", p.pfn))
	}

	if p.prev != nil {
		p.prev.next = p.next
	} else {
		l.head = p.next
	}

	if p.next != nil {
		p.next.prev = p.prev
	} else {
		l.tail = p.prev
	}

	p.next = nil
	p.prev = nil
	p.list = nil
}

// PFNs returns the PFNs on the list in order. Test and logging helper.
func (l *PageList) PFNs() []PFN {
	var pfns []PFN
	for p := l.head; p != nil; p = p.next {
		pfns = append(pfns, p.pfn)
	}

	return pfns
}
