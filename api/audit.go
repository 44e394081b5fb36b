package api

import "github.com/srediag/txbuf/pkg/audit"

// Auditor exposes the audit trail of a buffer. The trail is nil when
// auditing is disabled.
type Auditor interface {
	Audit() *audit.Trail
}
