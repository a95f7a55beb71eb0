// Package manifest composes resource manifests from configuration fragments.
//
// A fragment is a plain document (mappings, sequences and scalars) stored as
// a profile of one category. Composition merges the fragments of each category
// in priority order, places each merged category into the skeleton of the
// target kind, applies overrides and validates the result:
//
//   - Deep merge with identity-keyed sequence merging (name, mountPath, containerPort)
//   - Shallow, override and append strategies per fragment
//   - Provenance tracking from every leaf back to the profile that set it
//   - Structural validation against embedded JSON schemas
//
// # Placement
//
// Categories land at fixed locations of each kind:
//
//	pod_metadata          Deployment /spec/template/metadata, Pod /metadata
//	service_metadata      Service /metadata
//	service_selector      Service /spec/selector
//	deployment_selector   Deployment /spec/selector
//	container, volume,
//	scheduling            Deployment /spec/template/spec, Pod /spec
//	resource, probe, env,
//	lifecycle             every container of the pod spec
//
// # Overrides
//
// Overrides are keyed by JSON pointer or by one of the aliases name,
// namespace, replicas, labels and annotations:
//
//	overrides:
//	  replicas: 3
//	  /spec/template/spec/containers/0/image: web:1.2.3
package manifest
