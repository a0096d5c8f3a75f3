package notifier

import (
	"context"
	"errors"
)

// MultiNotifier fans out to several notifiers, delivering only to the ones
// whose permission is granted
type MultiNotifier struct {
	children []Notifier
}

// NewMultiNotifier creates a fan-out notifier
func NewMultiNotifier(children ...Notifier) *MultiNotifier {
	return &MultiNotifier{children: children}
}

// Permission implements PermissionRequester.Permission. The aggregate is
// granted if any child is granted, otherwise denied if any child is denied,
// otherwise default if any child is still undecided.
func (m *MultiNotifier) Permission() Permission {
	perms := make([]Permission, len(m.children))
	for i, child := range m.children {
		perms[i] = PermissionOf(child)
	}
	return aggregatePermissions(perms)
}

// RequestPermission implements PermissionRequester.RequestPermission by
// asking every undecided child
func (m *MultiNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	var errs []error
	perms := make([]Permission, len(m.children))
	for i, child := range m.children {
		perms[i] = PermissionOf(child)
		pr, ok := child.(PermissionRequester)
		if !ok || perms[i] != PermissionDefault {
			continue
		}
		perm, err := pr.RequestPermission(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		perms[i] = perm
	}
	return aggregatePermissions(perms), errors.Join(errs...)
}

// Notify implements Notifier.Notify
func (m *MultiNotifier) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, child := range m.granted() {
		if err := child.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PlayAlertTone implements Notifier.PlayAlertTone
func (m *MultiNotifier) PlayAlertTone(ctx context.Context, tone Tone) error {
	var errs []error
	for _, child := range m.granted() {
		if err := child.PlayAlertTone(ctx, tone); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiNotifier) granted() []Notifier {
	granted := make([]Notifier, 0, len(m.children))
	for _, child := range m.children {
		if PermissionOf(child) == PermissionGranted {
			granted = append(granted, child)
		}
	}
	return granted
}

func aggregatePermissions(perms []Permission) Permission {
	var denied, undecided bool
	for _, perm := range perms {
		switch perm {
		case PermissionGranted:
			return PermissionGranted
		case PermissionDenied:
			denied = true
		case PermissionDefault:
			undecided = true
		}
	}
	switch {
	case denied:
		return PermissionDenied
	case undecided:
		return PermissionDefault
	default:
		return PermissionUnsupported
	}
}
