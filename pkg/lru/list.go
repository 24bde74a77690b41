package lru

// list is a doubly linked list that owns its elems.
// It is the ordering half of LRU and is not safe for concurrent use.
type list[V any] struct {
	front, back *elem[V]
	length      int
}

type elem[V any] struct {
	prev, next *elem[V]
	owner      *list[V]

	Value V
}

func (l *list[V]) pushBack(e *elem[V]) {
	l.length++
	e.owner = l

	if l.back == nil {
		l.front = e
		l.back = e
		return
	}

	e.prev = l.back
	l.back.next = e
	l.back = e
}

// moveToBack marks e as the most recently used elem.
func (l *list[V]) moveToBack(e *elem[V]) {
	if e.owner != l {
		panic("lru: elem does not belong to this list")
	}
	if l.back == e {
		return
	}
	l.unlink(e)
	l.length++
	e.owner = l
	e.prev = l.back
	l.back.next = e
	l.back = e
}

func (l *list[V]) remove(e *elem[V]) {
	if e.owner != l {
		panic("lru: elem does not belong to this list")
	}
	l.unlink(e)
}

func (l *list[V]) unlink(e *elem[V]) {
	l.length--
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.front = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.back = e.prev
	}
	e.prev, e.next, e.owner = nil, nil, nil
}
