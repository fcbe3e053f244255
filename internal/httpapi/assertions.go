package httpapi

import (
	"github.com/averlon/posledger/internal/storage/memory"
	"github.com/averlon/posledger/internal/storage/postgres"
)

// Compile-time interface assertions for both stores against the API surface.
var (
	_ Store        = (*memory.Store)(nil)
	_ Store        = (*postgres.Store)(nil)
	_ ReadyChecker = (*postgres.Store)(nil)
)
