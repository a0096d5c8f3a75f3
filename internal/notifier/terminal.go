package notifier

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	bell          = "\a"
	consentPrompt = "Show crashguard alerts in this terminal? [y/N] "
)

// TerminalNotifier prints a banner per notification and rings the terminal
// bell once per tone pulse. It only works on an interactive terminal and
// asks the user before showing anything when its permission starts at
// default.
type TerminalNotifier struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time

	consent     sync.Mutex
	in          io.Reader
	interactive bool
	perm        Permission
}

// TerminalOption configures a TerminalNotifier
type TerminalOption func(*TerminalNotifier)

// WithConsent sets the starting permission and the reader the consent
// prompt is answered on
func WithConsent(in io.Reader, initial Permission) TerminalOption {
	return func(n *TerminalNotifier) {
		n.in = in
		n.perm = initial
	}
}

// WithInteractive overrides terminal detection on the output
func WithInteractive(interactive bool) TerminalOption {
	return func(n *TerminalNotifier) {
		n.interactive = interactive
	}
}

// NewTerminalNotifier creates a terminal notifier writing to out. Without
// options it is granted whenever out is a terminal.
func NewTerminalNotifier(out io.Writer, opts ...TerminalOption) *TerminalNotifier {
	n := &TerminalNotifier{
		out:         out,
		now:         time.Now,
		interactive: IsTerminal(out),
		perm:        PermissionGranted,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsTerminal reports whether w is attached to a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Available reports whether the output is an interactive terminal
func (n *TerminalNotifier) Available() bool {
	return n.interactive
}

// Permission implements PermissionRequester.Permission
func (n *TerminalNotifier) Permission() Permission {
	if !n.interactive {
		return PermissionUnsupported
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.perm
}

// RequestPermission implements PermissionRequester.RequestPermission. An
// undecided terminal prompts once; any answer but yes denies.
func (n *TerminalNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	n.consent.Lock()
	defer n.consent.Unlock()

	if perm := n.Permission(); perm != PermissionDefault {
		return perm, nil
	}
	if n.in == nil {
		n.setPermission(PermissionDenied)
		return PermissionDenied, nil
	}

	n.mu.Lock()
	_, err := io.WriteString(n.out, consentPrompt)
	n.mu.Unlock()
	if err != nil {
		return PermissionDefault, fmt.Errorf("failed to prompt for consent: %w", err)
	}

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(n.in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return PermissionDefault, ctx.Err()
	case line := <-answer:
		perm := PermissionDenied
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			perm = PermissionGranted
		}
		n.setPermission(perm)
		return perm, nil
	}
}

func (n *TerminalNotifier) setPermission(perm Permission) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.perm = perm
}

// Notify implements Notifier.Notify
func (n *TerminalNotifier) Notify(ctx context.Context, notification Notification) error {
	line := fmt.Sprintf("[%s] %s %s: %s\n",
		n.now().Format("15:04:05"),
		strings.ToUpper(string(notification.Class)),
		notification.Title,
		notification.Body)

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := io.WriteString(n.out, line)
	return err
}

// PlayAlertTone implements Notifier.PlayAlertTone. Pulses start Gap apart;
// the terminal bell has no pitch or length so those fields are ignored.
func (n *TerminalNotifier) PlayAlertTone(ctx context.Context, tone Tone) error {
	for i := 0; i < tone.Pulses; i++ {
		if i > 0 {
			timer := time.NewTimer(tone.Gap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		n.mu.Lock()
		_, err := io.WriteString(n.out, bell)
		n.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}
