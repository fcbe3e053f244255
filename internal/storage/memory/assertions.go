package memory

import (
	"github.com/averlon/posledger/internal/service/daily"
	"github.com/averlon/posledger/internal/service/posting"
)

// Compile-time interface assertions for the in-memory Store.
var (
	_ posting.Repo   = (*Store)(nil)
	_ posting.Writer = (*Store)(nil)
	_ daily.Repo     = (*Store)(nil)
	_ daily.Writer   = (*Store)(nil)
)
