// Package types provides core types used across the deskhive backend.
// This package has ZERO dependencies on other deskhive packages to avoid
// circular imports. All other packages should import types from here.
package types
