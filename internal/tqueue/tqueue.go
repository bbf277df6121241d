// Package tqueue provides a deadline-ordered queue for work of the kind
// "pop the earliest thing whose time has come", such as retransmission
// or request timeouts. No other package in this module imports it: the
// congestion, transfer and discovery code keep their own timers.
// Adapted from an AVL-tree-ordered expiry queue idiom.
package tqueue

import (
	"sync"

	"gitlab.com/yawning/avl.git"
)

// Entry is one item pending expiry.
type Entry struct {
	Deadline int64 // UnixNano
	Seq      uint64
	Value    interface{}

	node *avl.Node
}

// Queue is a concurrency-safe deadline-ordered collection.
type Queue struct {
	mu   sync.Mutex
	tree *avl.Tree
	seq  uint64
}

func New() *Queue {
	return &Queue{
		tree: avl.New(func(a, b interface{}) int {
			ea, eb := a.(*Entry), b.(*Entry)
			switch {
			case ea.Deadline < eb.Deadline:
				return -1
			case ea.Deadline > eb.Deadline:
				return 1
			case ea.Seq < eb.Seq:
				return -1
			case ea.Seq > eb.Seq:
				return 1
			default:
				return 0
			}
		}),
	}
}

// Push inserts value with the given deadline and returns the Entry handle
// so the caller can Cancel it before it fires.
func (q *Queue) Push(deadlineUnixNano int64, value interface{}) *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	e := &Entry{Deadline: deadlineUnixNano, Seq: q.seq, Value: value}
	e.node = q.tree.Insert(e)
	return e
}

// Cancel removes an entry before it expires. Safe to call on an already
// popped or cancelled entry.
func (q *Queue) Cancel(e *Entry) {
	if e == nil || e.node == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tree.Remove(e.node)
	e.node = nil
}

// Len returns the number of outstanding entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tree.Len()
}

// Expired removes and returns every entry whose deadline is <= now
// (UnixNano), earliest first.
func (q *Queue) Expired(nowUnixNano int64) []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Entry
	iter := q.tree.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		e := node.Value.(*Entry)
		if e.Deadline > nowUnixNano {
			break
		}
		out = append(out, e)
	}
	for _, e := range out {
		q.tree.Remove(e.node)
		e.node = nil
	}
	return out
}
