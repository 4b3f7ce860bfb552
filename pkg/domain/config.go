package domain

// SnapshotID identifies an immutable, versioned set of config documents a
// handler resolves once per invocation and reuses for its duration.
type SnapshotID struct {
	TenantID string
	Domain   string
	Version  int
}

// Tenant is an opaque customer namespace. All other entities carry a
// TenantID; cross-tenant reads/writes are forbidden (spec.md §8, P5).
type Tenant struct {
	TenantID string
	Domain   string // default domain pack for this tenant
}
