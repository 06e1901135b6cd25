package cache

import "fmt"

// Cache key namespace: <domain>:<entity-id>[:<variant>]. The store does
// not enforce this; every key in the codebase is built through these
// helpers so the namespace stays consistent.
const (
	ProfileKeyPattern     = "profile:%s"
	WalletKeyPattern      = "wallet:%s"
	ReferralKeyPattern    = "referral:%s"
	LeaderboardKeyPattern = "leaderboard:%s"
	ListKeyPattern        = "list:%s:%s:%d:%s" // resource, cursor, limit, filter hash
)

// ProfileKey is the cache key for a single user's profile.
func ProfileKey(userID string) string {
	return fmt.Sprintf(ProfileKeyPattern, userID)
}

// WalletKey is the cache key for a single user's wallet summary.
func WalletKey(userID string) string {
	return fmt.Sprintf(WalletKeyPattern, userID)
}

// ReferralKey is the cache key for a single user's referral stats.
func ReferralKey(userID string) string {
	return fmt.Sprintf(ReferralKeyPattern, userID)
}

// LeaderboardKey is the cache key for one leaderboard period
// ("daily", "weekly", ...).
func LeaderboardKey(period string) string {
	return fmt.Sprintf(LeaderboardKeyPattern, period)
}

// ListKey is the cache key for one page of a paginated listing.
func ListKey(resource, cursor string, limit int, filterHash string) string {
	return fmt.Sprintf(ListKeyPattern, resource, cursor, limit, filterHash)
}

// ListPattern matches every cached page of a listing resource. Listing
// caches are invalidated by pattern because enumerating every
// cursor/limit/filter variant is not practical.
func ListPattern(resource string) string {
	return fmt.Sprintf("list:%s:*", resource)
}
