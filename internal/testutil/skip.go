// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips slow tests when -short is set or
// TOPICINDEX_TEST_SKIP_SLOW is non-empty.
func SkipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping slow test in -short mode")
	}
	if os.Getenv("TOPICINDEX_TEST_SKIP_SLOW") != "" {
		t.Skip("skipping slow test: TOPICINDEX_TEST_SKIP_SLOW is set")
	}
}
