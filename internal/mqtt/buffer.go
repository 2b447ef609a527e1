package mqtt

import "log"

// backlog keeps the newest status telegrams that could not be published.
// Not safe for concurrent use.
type backlog struct {
	items   [][]byte
	size    int
	dropped int
}

func newBacklog(size int) *backlog {
	if size < 1 {
		size = 1
	}
	return &backlog{size: size}
}

// add appends a telegram, dropping the oldest when full.
func (b *backlog) add(payload []byte) {
	if len(b.items) == b.size {
		if b.dropped == 0 {
			log.Printf("mqtt: backlog full (%d telegrams), dropping oldest", b.size)
		}
		b.dropped++
		copy(b.items, b.items[1:])
		b.items[len(b.items)-1] = payload
		return
	}
	b.items = append(b.items, payload)
}

// take returns all kept telegrams, oldest first, and empties the backlog.
func (b *backlog) take() [][]byte {
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	if b.dropped > 0 {
		log.Printf("mqtt: %d telegrams were dropped while disconnected", b.dropped)
	}
	b.items = nil
	b.dropped = 0
	return out
}

func (b *backlog) len() int {
	return len(b.items)
}
