// Package config provides tool configuration and desired-resource
// manifests for scopekeeper.
//
// # Overview
//
// Two kinds of input live here. The YAML tool configuration
// (scopekeeper.yaml) selects the state directory, lock backend, default
// finalization options, protected stages, history store, and provisioner
// backend; Discover walks up from the working directory to find it and
// falls back to built-in defaults. Desired-resource manifests are CUE
// documents declaring which resources each scope path should still hold;
// the scope layer compares them against tracked state to surface orphans.
//
// # Manifest shape
//
//	scopes: {
//		"acme/prod": {
//			resources: [
//				{id: "db-main", type: "database"},
//				{id: "cdn", type: "bucket"},
//			]
//		}
//	}
//
// Manifests are validated against an embedded CUE schema before
// extraction, so malformed entries are rejected with file positions
// rather than silently dropped.
package config
