package multiagent

import (
	"net/url"
	"strings"
)

// DefaultNamespace is the bucket prefix under which specialist roots live.
const DefaultNamespace = "research"

// Workspace assigns each specialist a private key prefix in the shared
// document bucket.
type Workspace struct {
	namespace string
}

// NewWorkspace creates a Workspace under namespace (DefaultNamespace when
// empty).
func NewWorkspace(namespace string) *Workspace {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Workspace{namespace: namespace}
}

// RootFor returns the document root for specialist agentID of session:
// <namespace>/<session>/<agentID>/. The session is escaped and the id is
// sanitized, so neither can add a separator or a parent reference.
func (w *Workspace) RootFor(session, agentID string) string {
	return w.namespace + "/" + sessionSegment(session) + "/" + SanitizeID(agentID) + "/"
}

func sessionSegment(session string) string {
	seg := url.PathEscape(session)
	if seg == "" || strings.Trim(seg, ".") == "" {
		// "", "." and ".." would read as path navigation.
		seg = strings.ReplaceAll("_"+seg, ".", "%2E")
	}
	return seg
}
