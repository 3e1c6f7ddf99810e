package models

// Hooks for the external test package.
var (
	DirectBalanceAsOf = directBalanceAsOf
	MatchConfidence   = matchConfidence
)
