// Package fallback produces canned assistant replies used when the
// generation service cannot answer.
package fallback

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

var templates = []string{
	`Here is an answer about "%s". Connect the generation service for a more accurate reply.`,
	`Interesting question! Let me explain "%s" in more detail.`,
	`Good question. Regarding "%s", here is what I can tell you.`,
	`My thoughts on "%s" are as follows. Feel free to ask anything more specific.`,
}

type Responder struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

type Config struct {
	// Rand overrides the template picker. Tests pass a seeded source.
	Rand *rand.Rand
}

func New(cfg Config) *Responder {
	rnd := cfg.Rand
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Responder{rnd: rnd}
}

// Reply quotes message verbatim inside a randomly picked template.
func (r *Responder) Reply(message string) string {
	r.mu.Lock()
	i := r.rnd.IntN(len(templates))
	r.mu.Unlock()
	return fmt.Sprintf(templates[i], message)
}
