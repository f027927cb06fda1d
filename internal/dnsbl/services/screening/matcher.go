package screening

import (
	"strings"
	"time"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/clock"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/repos/registry"
)

// garbageWarnInterval limits garbage-reply warnings to one per list per hour.
const garbageWarnInterval = time.Hour

type matcher struct {
	clock   clock.Clock
	logger  log.Logger
	metrics Metrics
}

// match reports whether reply counts as a listing on e.
func (m *matcher) match(e *registry.Entry, reply string) bool {
	// presence in the list is the signal
	if len(e.Filters) == 0 {
		return true
	}

	dot := strings.LastIndexByte(reply, '.')
	if dot < 0 || dot == len(reply)-1 {
		m.garbage(e, reply)
		return false
	}
	last := reply[dot+1:]

	for _, f := range e.Filters {
		var cmp string
		switch f.Kind {
		case domain.FilterWholeAddress:
			cmp = reply
		case domain.FilterLastOctet:
			cmp = last
		default:
			m.logger.Error(map[string]any{
				"list": e.Host,
				"kind": f.Kind.String(),
			}, "Unknown blacklist filter kind, skipping filter")
			continue
		}
		if cmp == f.Match {
			return true
		}
	}
	return false
}

func (m *matcher) garbage(e *registry.Entry, reply string) {
	m.metrics.GarbageReply(e.Host)

	now := m.clock.Now()
	if last := e.LastWarning(); !last.IsZero() && now.Sub(last) <= garbageWarnInterval {
		return
	}
	e.SetLastWarning(now)
	m.logger.Warn(map[string]any{
		"list":  e.Host,
		"reply": reply,
	}, "Garbage reply from blacklist")
}
