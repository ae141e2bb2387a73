// Package app wires the relay's runtime lifecycle together.
//
// App sits between cmd/edgebus and the infrastructure packages: it
// subscribes the configured topics on a connected broker client,
// consumes the subscription handles, journals and telemeters traffic,
// and tears everything down in order on shutdown. Collaborators are
// injected as small interfaces so the lifecycle is testable without a
// broker or database.
package app
