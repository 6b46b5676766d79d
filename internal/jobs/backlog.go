package jobs

import (
	"sort"
	"sync"

	"github.com/jo-hoe/postpainter/internal/cms"
)

// SortByPriority returns a copy of posts ordered so that posts without a
// featured image come first, then by embedded image count ascending. Ties
// keep their crawl order.
func SortByPriority(posts []cms.Post) []cms.Post {
	out := append([]cms.Post(nil), posts...)
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := out[i].FeaturedMediaID != 0, out[j].FeaturedMediaID != 0
		if fi != fj {
			return !fi
		}
		return out[i].ImageCount < out[j].ImageCount
	})
	return out
}

// Backlog hands out posts in priority order. It is never re-ordered once built.
type Backlog struct {
	mu    sync.Mutex
	items []cms.Post
	next  int
	done  map[int64]bool
}

func NewBacklog(posts []cms.Post) *Backlog {
	return &Backlog{items: SortByPriority(posts), done: make(map[int64]bool)}
}

// Next pops the next post.
func (b *Backlog) Next() (cms.Post, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next >= len(b.items) {
		return cms.Post{}, false
	}
	p := b.items[b.next]
	b.next++
	return p, true
}

// Complete marks a post as finished.
func (b *Backlog) Complete(postID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done[postID] = true
}

func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Remaining counts posts not yet completed.
func (b *Backlog) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) - len(b.done)
}

// Posts returns the ordered backlog.
func (b *Backlog) Posts() []cms.Post {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]cms.Post(nil), b.items...)
}
