// Package util provides common utility functions used across apiguard.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging client-supplied values
//   - NormalizePath: Canonical request path used in cache keys and invalidation
//   - CaptureWriter: Records status and body of a response while forwarding it
package util
