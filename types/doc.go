// Package types provides core types used across the kestrel engine.
// This package has ZERO dependencies on other kestrel packages to avoid
// circular imports. All other packages should import types from here.
package types
