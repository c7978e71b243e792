// Package services provides the centralized service registry for bugbind.
//
// Registry pattern for accessing all core services (tracker, test
// management, corrections, matcher, gate, workflows). Build() wires the
// full graph from configuration; NewRegistry() assembles one from
// pre-built instances, which is what tests do.
package services
