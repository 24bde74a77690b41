package lru

import (
	"fmt"
)

// LRU is a size bounded map that evicts the least recently used key.
// It is not safe for concurrent use. See concurrent_lru.
type LRU[K comparable, V any] struct {
	maxSize int
	onEvict func(key K, v V)

	l list[kv[K, V]]
	m map[K]*elem[kv[K, V]]
}

type kv[K comparable, V any] struct {
	key K
	v   V
}

func NewLRU[K comparable, V any](maxSize int, onEvict func(key K, v V)) *LRU[K, V] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("LRU: invalid max size: %d", maxSize))
	}

	return &LRU[K, V]{
		maxSize: maxSize,
		onEvict: onEvict,
		m:       make(map[K]*elem[kv[K, V]], maxSize),
	}
}

func (q *LRU[K, V]) Add(key K, v V) {
	if e, ok := q.m[key]; ok {
		e.Value.v = v
		q.l.moveToBack(e)
		return
	}

	// Full. Recycle the oldest elem.
	if q.l.length >= q.maxSize {
		e := q.l.front
		if q.onEvict != nil {
			q.onEvict(e.Value.key, e.Value.v)
		}
		delete(q.m, e.Value.key)

		e.Value = kv[K, V]{key: key, v: v}
		q.m[key] = e
		q.l.moveToBack(e)
		return
	}

	e := &elem[kv[K, V]]{Value: kv[K, V]{key: key, v: v}}
	q.m[key] = e
	q.l.pushBack(e)
}

// Get returns the value of key and marks it as recently used.
func (q *LRU[K, V]) Get(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	q.l.moveToBack(e)
	return e.Value.v, true
}

func (q *LRU[K, V]) Del(key K) {
	if e := q.m[key]; e != nil {
		q.delElem(e)
	}
}

// Clean removes every key that f returns true for.
func (q *LRU[K, V]) Clean(f func(key K, v V) (remove bool)) (removed int) {
	for e := q.l.front; e != nil; {
		next := e.next
		if f(e.Value.key, e.Value.v) {
			q.delElem(e)
			removed++
		}
		e = next
	}
	return
}

// Range calls f from the oldest key to the newest until f returns false.
// f must not modify q.
func (q *LRU[K, V]) Range(f func(key K, v V) bool) {
	for e := q.l.front; e != nil; e = e.next {
		if !f(e.Value.key, e.Value.v) {
			return
		}
	}
}

func (q *LRU[K, V]) Len() int {
	return q.l.length
}

func (q *LRU[K, V]) delElem(e *elem[kv[K, V]]) {
	key, v := e.Value.key, e.Value.v
	q.l.remove(e)
	delete(q.m, key)

	if q.onEvict != nil {
		q.onEvict(key, v)
	}
}
