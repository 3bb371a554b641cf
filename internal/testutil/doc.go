// Package testutil provides testing utilities for apiguard: a controllable clock
// and small HTTP helpers for deterministic middleware tests.
package testutil
