package llm

import (
	"math/rand/v2"

	"buddyline/internal/personality"
)

// FallbackReply picks a canned reply for the personality type. Unknown
// types draw from the friendly pool. pick returns an index in [0,n); nil
// means uniform random.
func FallbackReply(t personality.Type, pick func(n int) int) string {
	pool := personality.FallbackResponses(t)
	if len(pool) == 0 {
		return "I'm here! Tell me more."
	}
	if pick == nil {
		pick = rand.IntN
	}
	return pool[pick(len(pool))]
}
