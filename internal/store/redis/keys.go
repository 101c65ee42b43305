package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark row keys
	KeyPrefixBookmark = "shelf:bookmark:"
	// KeyPrefixOwner is the prefix for per-owner sorted indexes
	KeyPrefixOwner = "shelf:owner:"
	// KeyPrefixRevoked is the prefix for revoked session token ids
	KeyPrefixRevoked = "shelf:session:revoked:"

	// ChannelBookmarks is the table-wide change feed. It is not owner scoped.
	ChannelBookmarks = "shelf:changes:bookmarks"
)

// BookmarkKey returns the Redis key holding one bookmark row
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// OwnerIndexKey returns the sorted set of an owner's bookmark ids,
// scored by creation time in unix microseconds.
func OwnerIndexKey(owner string) string {
	return KeyPrefixOwner + owner + ":bookmarks"
}

// RevokedKey returns the key marking a session token id as terminated
func RevokedKey(tokenID string) string {
	return KeyPrefixRevoked + tokenID
}
