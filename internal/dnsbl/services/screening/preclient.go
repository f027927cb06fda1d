package screening

import "github.com/haukened/rr-dnsbl/internal/dnsbl/repos/registry"

type queryState uint8

const (
	queryIssued queryState = iota
	queryCompleted
	queryCancelled
)

// pendingQuery is one in-flight lookup for one (client, blacklist) pair. It
// holds a reference on its registry entry until it completes or is cancelled.
type pendingQuery struct {
	client Client
	pre    *PreClient
	list   registry.ID
	handle Handle
	name   string
	state  queryState
}

// PreClient is the screening state a client carries until it registers.
// Its zero value is not usable; create one with NewPreClient. Fields are only
// touched under the service lock.
type PreClient struct {
	queries map[Handle]*pendingQuery
	// listed is the entry that matched first; 0 while empty. The reference
	// taken by the matching lookup is kept here until ReleaseClient.
	listed registry.ID
	gated  bool
}

func NewPreClient() *PreClient {
	return &PreClient{queries: make(map[Handle]*pendingQuery)}
}
