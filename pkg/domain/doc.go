// Package domain defines the shared types of the mTLS control surface: the
// request-processing phases, the per-request context with its verify-override
// slot, and the error taxonomy used across the module.
package domain
