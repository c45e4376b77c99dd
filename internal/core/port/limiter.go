package port

import "context"

// RateLimiter is a distributed token bucket. Keys are caller identities:
// a user id when authenticated, a network address otherwise.
type RateLimiter interface {
	// Consume atomically refills the key's bucket and takes amount tokens
	// from it. It reports false when the bucket has too few tokens, and
	// fails closed (false, err) when the store is unreachable.
	Consume(ctx context.Context, key string, amount int) (bool, error)
}
