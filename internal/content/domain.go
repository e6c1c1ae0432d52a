// Package content is the read-only view of boards, topics and replies the
// moderation engine needs to build ownership context. Content writes belong
// to the forum service.
package content

// Board is the moderation-relevant projection of a board.
type Board struct {
	ID      int64
	OwnerID *int64
	Active  bool
}

// OwnedBy reports whether accountID is the board's primary owner.
func (b Board) OwnedBy(accountID int64) bool {
	return b.OwnerID != nil && *b.OwnerID == accountID
}

// Topic is the moderation-relevant projection of a topic.
type Topic struct {
	ID       int64
	BoardID  int64
	AuthorID int64
	Open     bool
}

// ItemKind distinguishes authored content.
type ItemKind string

const (
	KindTopic ItemKind = "topic"
	KindReply ItemKind = "reply"
)

// ItemRef points at a topic or reply.
type ItemRef struct {
	Kind ItemKind
	ID   int64
}
