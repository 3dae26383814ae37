package audit

import (
	"strings"
)

// Action kinds.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionLogout = "LOGOUT"
)

// Resource types.
const (
	ResourceAccount = "ACCOUNT"
	ResourceSession = "SESSION"
	ResourceStudent = "STUDENT"
	ResourceMerch   = "MERCH"
	ResourceOrder   = "ORDER"
)

const unknownResource = "unknown"

// Operation tags a guarded call site with what it does and to what.
type Operation struct {
	Action       string
	ResourceType string
}

func (o Operation) String() string { return o.Action + " " + o.ResourceType }

// ResourceIDFromURI takes the last non-empty path segment of uri, ignoring
// query and fragment. It is a heuristic: "/api/orders/42/items" yields "items".
func ResourceIDFromURI(uri string) string {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	segs := strings.Split(uri, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segs[i]); s != "" {
			return s
		}
	}
	return unknownResource
}
