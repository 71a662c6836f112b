package service

// ticketLog remembers the slot ids behind recently issued sample tickets so
// feedback can reference a ticket instead of echoing indices back. Oldest
// tickets fall off once the limit is hit. Callers hold the service mutex.
type ticketLog struct {
	limit int
	order []string
	slots map[string][]int
}

func newTicketLog(limit int) *ticketLog {
	return &ticketLog{
		limit: limit,
		slots: make(map[string][]int, limit),
	}
}

func (l *ticketLog) put(id string, slotIDs []int) {
	if _, ok := l.slots[id]; !ok {
		l.order = append(l.order, id)
	}
	l.slots[id] = append([]int(nil), slotIDs...)
	for len(l.order) > l.limit {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.slots, oldest)
	}
}

func (l *ticketLog) get(id string) ([]int, bool) {
	slotIDs, ok := l.slots[id]
	return slotIDs, ok
}

func (l *ticketLog) drop(id string) {
	if _, ok := l.slots[id]; !ok {
		return
	}
	delete(l.slots, id)
	for i, other := range l.order {
		if other == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *ticketLog) reset() {
	l.order = l.order[:0]
	for id := range l.slots {
		delete(l.slots, id)
	}
}

func (l *ticketLog) len() int {
	return len(l.slots)
}
