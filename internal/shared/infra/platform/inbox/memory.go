package inbox

import (
	"context"
	"sync"
	"time"

	sharedDomain "github.com/davicafu/eventorders/internal/shared/domain"
)

type mark struct {
	done    bool
	expires time.Time
}

// InMemoryInbox es el inbox de desarrollo: no sobrevive a un reinicio.
// Como el cliente de Redis, falla con un ctx cancelado.
type InMemoryInbox struct {
	mu    sync.Mutex
	marks map[string]mark
	ttl   time.Duration
	now   func() time.Time
}

func NewInMemoryInbox(ttl time.Duration) *InMemoryInbox {
	return &InMemoryInbox{
		marks: make(map[string]mark),
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (i *InMemoryInbox) SetClock(now func() time.Time) {
	i.mu.Lock()
	i.now = now
	i.mu.Unlock()
}

func (i *InMemoryInbox) Claim(ctx context.Context, eventID string, hold time.Duration) (sharedDomain.InboxClaim, error) {
	if err := ctx.Err(); err != nil {
		return sharedDomain.InboxInFlight, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if m, ok := i.marks[eventID]; ok && now.Before(m.expires) {
		if m.done {
			return sharedDomain.InboxDone, nil
		}
		return sharedDomain.InboxInFlight, nil
	}
	i.marks[eventID] = mark{expires: now.Add(hold)}
	return sharedDomain.InboxClaimed, nil
}

func (i *InMemoryInbox) Confirm(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	i.marks[eventID] = mark{done: true, expires: i.now().Add(i.ttl)}
	i.mu.Unlock()
	return nil
}

func (i *InMemoryInbox) Forget(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	delete(i.marks, eventID)
	i.mu.Unlock()
	return nil
}

var _ sharedDomain.Inbox = (*InMemoryInbox)(nil)
