package errs

import "fmt"

// Severity is the signalling level of a Notice. Errors abort an operation and
// are returned as *Error; messages and warnings let the operation complete.
type Severity int

const (
	SeverityMessage Severity = iota // informational
	SeverityWarning                 // recoverable, caller should be alerted
	SeverityError                   // operation aborted
)

func (s Severity) String() string {
	switch s {
	case SeverityMessage:
		return "message"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a non-fatal condition raised while an operation runs to completion.
type Notice struct {
	Severity  Severity
	Component string // "registry", "typemap", "identifier", …
	Message   string
}

func (n Notice) String() string {
	return fmt.Sprintf("%s %s: (%s)", n.Component, n.Severity, n.Message)
}

// Notifier receives notices. The logger implements it; tests use a Collector.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = NotifierFunc(func(Notice) {})

// Warn sends a warning notice to n. A nil Notifier drops it.
func Warn(n Notifier, component, format string, args ...any) {
	if n == nil {
		return
	}
	n.Notify(Notice{Severity: SeverityWarning, Component: component, Message: fmt.Sprintf(format, args...)})
}

// Message sends an informational notice to n. A nil Notifier drops it.
func Message(n Notifier, component, format string, args ...any) {
	if n == nil {
		return
	}
	n.Notify(Notice{Severity: SeverityMessage, Component: component, Message: fmt.Sprintf(format, args...)})
}

// Collector records notices in arrival order.
type Collector struct {
	Notices []Notice
}

func (c *Collector) Notify(n Notice) {
	c.Notices = append(c.Notices, n)
}

// Warnings returns only the warning-level notices.
func (c *Collector) Warnings() []Notice {
	var out []Notice
	for _, n := range c.Notices {
		if n.Severity == SeverityWarning {
			out = append(out, n)
		}
	}
	return out
}

// Reset forgets everything collected so far.
func (c *Collector) Reset() {
	c.Notices = nil
}

// Tee fans a notice out to several notifiers.
func Tee(ns ...Notifier) Notifier {
	return NotifierFunc(func(n Notice) {
		for _, dst := range ns {
			if dst != nil {
				dst.Notify(n)
			}
		}
	})
}
