package ingress

import (
	"fmt"
	"strings"
)

// ProxyError describes a failed routing rule change. Output carries validator
// or reloader stderr when present.
type ProxyError struct {
	Subdomain string
	Stage     string
	Output    string
	Err       error
}

func (e *ProxyError) Error() string {
	msg := fmt.Sprintf("ingress %s for %s failed", e.Stage, e.Subdomain)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ProxyError) Unwrap() error { return e.Err }
