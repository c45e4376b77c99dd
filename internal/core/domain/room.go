package domain

import "errors"

var (
	// ErrNoMatch means fewer than two candidates were available.
	ErrNoMatch = errors.New("not enough users waiting for a match")
	// ErrNotPaired means the identity has no current room.
	ErrNotPaired = errors.New("user is not in a room")
	// ErrUnknownUser means no presence record exists for the identity.
	ErrUnknownUser = errors.New("unknown user")
)

// Room is an ephemeral pairing of exactly two identities. It is a
// request-scoped view of store state, never authoritative between calls.
type Room struct {
	ID         RoomID
	User1      UserID
	User2      UserID
	User1Ready bool
	User2Ready bool
}

// PartnerOf returns the other member, or false if id is not a member.
func (r Room) PartnerOf(id UserID) (UserID, bool) {
	switch id {
	case r.User1:
		return r.User2, true
	case r.User2:
		return r.User1, true
	}
	return UserID{}, false
}
