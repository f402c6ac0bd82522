package ports

// Ingress is a mail-ingest surface with a lifecycle. Implementations
// accept messages, run them through the pipeline and pass survivors
// on.
type Ingress interface {
	// Start begins accepting messages.
	Start() error

	// Stop shuts the surface down.
	Stop() error
}
