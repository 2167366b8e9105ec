package journal

import (
	"fmt"
	"html"
	"sync"
)

// DefaultPanelSize is the number of entries the status panel keeps
const DefaultPanelSize = 500

// HTML renders the entry the way the status panel shows it
func (e Entry) HTML() string {
	return fmt.Sprintf(`<font color="%s">[%s]</font>`, e.Level.Color(), html.EscapeString(e.Message))
}

// Panel is the in-memory status panel: a bounded list of recent entries with
// fan-out to subscribers. Slow subscribers miss entries rather than block logging.
type Panel struct {
	mu      sync.RWMutex
	entries []Entry
	start   int
	count   int
	subs    map[int]chan Entry
	nextID  int
}

func NewPanel(size int) *Panel {
	if size <= 0 {
		size = DefaultPanelSize
	}

	return &Panel{
		entries: make([]Entry, size),
		subs:    make(map[int]chan Entry),
	}
}

// Publish appends the entry, evicting the oldest one when full
func (p *Panel) Publish(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := len(p.entries)
	if p.count < size {
		p.entries[(p.start+p.count)%size] = e
		p.count++
	} else {
		p.entries[p.start] = e
		p.start = (p.start + 1) % size
	}

	for _, ch := range p.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n of the newest entries, oldest first. n <= 0 returns all.
func (p *Panel) Recent(n int) []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || n > p.count {
		n = p.count
	}

	out := make([]Entry, n)
	size := len(p.entries)
	for i := 0; i < n; i++ {
		out[i] = p.entries[(p.start+p.count-n+i)%size]
	}

	return out
}

// Len returns the number of entries held
func (p *Panel) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// Subscribe returns a channel receiving new entries and a function that
// unsubscribes and closes the channel.
func (p *Panel) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan Entry, buffer)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}
