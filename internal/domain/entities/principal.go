package entities

// Principal identifies who or what is performing an operation against the
// kernel. A principal string is opaque to the kernel itself; callers agree
// on a naming convention (e.g. "agent:research-1", "human:alice",
// "system") out of band.
type Principal string

const SystemPrincipal Principal = "system"

// Provenance classifies where an action originated, mirroring the
// distinction the audit log needs between an autonomous agent acting on a
// page, a human operator, content pulled from the web, and the kernel
// itself.
type Provenance string

const (
	ProvenanceHuman      Provenance = "human"
	ProvenanceAgent      Provenance = "agent"
	ProvenanceWebContent Provenance = "web_content"
	ProvenanceSystem     Provenance = "system"
)
