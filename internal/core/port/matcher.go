package port

import (
	"context"

	"github.com/huyvnnb/tanin/internal/core/domain"
)

// Match is the outcome of a successful pairing.
type Match struct {
	RoomID domain.RoomID
	User1  domain.UserID
	User2  domain.UserID
}

// Matcher is the pairing engine. All state lives in the shared store and is
// mutated concurrently by many processes; implementations must use the
// store's atomic primitives for every check-then-act step.
type Matcher interface {
	// Enroll adds the identity to the waiting pool. Idempotent.
	Enroll(ctx context.Context, id domain.UserID) error

	// Withdraw removes the identity from the waiting pool. Idempotent.
	Withdraw(ctx context.Context, id domain.UserID) error

	// TryMatch pops up to two arbitrary members from the waiting pool. On
	// success it atomically creates the room and both index entries. A
	// single popped member is re-enrolled and domain.ErrNoMatch returned.
	TryMatch(ctx context.Context) (Match, error)

	// RoomOf resolves the identity's current room and partner, or
	// domain.ErrNotPaired.
	RoomOf(ctx context.Context, id domain.UserID) (domain.RoomID, domain.UserID, error)

	// MarkReadyForVideo sets the member's ready flag. No-op when the room
	// no longer exists.
	MarkReadyForVideo(ctx context.Context, roomID domain.RoomID, id domain.UserID) error

	// BothReadyForVideo reports whether both members have signalled
	// readiness. False when the room no longer exists.
	BothReadyForVideo(ctx context.Context, roomID domain.RoomID) (bool, error)

	// ClaimOffer atomically claims the offering side of the signaling
	// exchange for id. Exactly one claim per room succeeds; the member
	// whose readiness completed the pair claims first and wins.
	ClaimOffer(ctx context.Context, roomID domain.RoomID, id domain.UserID) (bool, error)

	// Leave tears down the identity's room if one exists and returns the
	// partner. ok is false when the identity was not in a room; a second
	// call for the same identity is a safe no-op.
	Leave(ctx context.Context, id domain.UserID) (partner domain.UserID, ok bool, err error)

	// Announce publishes the identity's profile so any process can build
	// a matched payload for it. Called once per connection.
	Announce(ctx context.Context, user domain.Identity) error

	// Lookup fetches an announced profile, or domain.ErrUnknownUser.
	Lookup(ctx context.Context, id domain.UserID) (domain.Profile, error)

	// Retire removes the identity's announced profile.
	Retire(ctx context.Context, id domain.UserID) error
}
