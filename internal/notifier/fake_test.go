package notifier

import (
	"context"
	"sync"
)

// recordingNotifier records deliveries and optionally manages a permission
type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	tones         []Tone
	notifyErr     error

	perm     Permission
	grantTo  Permission
	requests int
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return r.notifyErr
}

func (r *recordingNotifier) PlayAlertTone(ctx context.Context, tone Tone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tones = append(r.tones, tone)
	return nil
}

func (r *recordingNotifier) sent() ([]Notification, []Tone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...), append([]Tone(nil), r.tones...)
}

// permissionNotifier is a recordingNotifier that implements PermissionRequester
type permissionNotifier struct {
	recordingNotifier
}

func newPermissionNotifier(current, grantTo Permission) *permissionNotifier {
	p := &permissionNotifier{}
	p.perm = current
	p.grantTo = grantTo
	return p
}

func (p *permissionNotifier) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm
}

func (p *permissionNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	p.perm = p.grantTo
	return p.perm, nil
}

func (p *permissionNotifier) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}
