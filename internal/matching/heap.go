package matching

import "container/heap"

// ladder is a container/heap of resting orders on one side of the book.
// bids sort by price descending then CreatedAt ascending; asks sort by
// price ascending then CreatedAt ascending. Both are plain min-heaps over
// a comparator that encodes the side's priority, mirroring the teacher's
// OrderHeap (container/heap + a bool direction flag).
type ladder struct {
	orders []*Order
	isBid  bool
}

func newLadder(isBid bool) *ladder {
	l := &ladder{isBid: isBid}
	heap.Init(l)
	return l
}

func (l *ladder) Len() int { return len(l.orders) }

func (l *ladder) Less(i, j int) bool {
	a, b := l.orders[i], l.orders[j]
	if !a.Price.Equal(*b.Price) {
		if l.isBid {
			return a.Price.GreaterThan(*b.Price)
		}
		return a.Price.LessThan(*b.Price)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (l *ladder) Swap(i, j int) { l.orders[i], l.orders[j] = l.orders[j], l.orders[i] }

func (l *ladder) Push(x interface{}) { l.orders = append(l.orders, x.(*Order)) }

func (l *ladder) Pop() interface{} {
	old := l.orders
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	l.orders = old[:n-1]
	return x
}

func (l *ladder) peek() *Order {
	if len(l.orders) == 0 {
		return nil
	}
	return l.orders[0]
}

// remove deletes the order with the given ID, re-heapifying afterward.
// Linear scan, matching the teacher's OrderHeap.Remove — ladders are
// shallow enough in practice that an index is not worth the bookkeeping.
func (l *ladder) remove(id string) bool {
	for i, o := range l.orders {
		if o.ID.String() == id {
			last := len(l.orders) - 1
			l.orders[i] = l.orders[last]
			l.orders[last] = nil
			l.orders = l.orders[:last]
			heap.Init(l)
			return true
		}
	}
	return false
}

// bestActive returns the top of the ladder, lazily discarding any head
// entries that are no longer live (filled/canceled but not yet removed).
// Mirrors original_source's get_best_bid/get_best_ask skip-loop.
func (l *ladder) bestActive() *Order {
	for l.Len() > 0 {
		top := l.peek()
		if top.Active && top.Remaining.IsPositive() {
			return top
		}
		heap.Pop(l)
	}
	return nil
}
