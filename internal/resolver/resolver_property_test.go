package resolver

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/victorsharp-labs/flow-proxy/internal/cache"
	"pgregory.net/rapid"
)

// TestProperty_FirstNonNotFoundWins: for N HTML-404 candidates followed by any other
// outcome, the resolver returns candidate N+1 and never calls the ones after it.
func TestProperty_FirstNonNotFoundWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		misses := rapid.IntRange(0, 8).Draw(t, "misses")
		tail := rapid.IntRange(0, 5).Draw(t, "tail")
		status := rapid.SampledFrom([]int{200, 201, 202, 400, 401, 403, 429, 500, 502}).Draw(t, "status")

		doer := newScriptedDoer()
		candidates := make([]string, 0, misses+1+tail)
		for i := 0; i < misses; i++ {
			u := fmt.Sprintf("https://fake/miss/%d", i)
			doer.reply(u, http.StatusNotFound, htmlNotFound)
			candidates = append(candidates, u)
		}
		winner := "https://fake/winner"
		doer.reply(winner, status, `{"status":"x"}`)
		candidates = append(candidates, winner)
		for i := 0; i < tail; i++ {
			u := fmt.Sprintf("https://fake/tail/%d", i)
			doer.reply(u, http.StatusOK, `{}`)
			candidates = append(candidates, u)
		}

		endpoints := cache.NewEndpointCache(time.Minute)
		res, err := New(doer, endpoints).Resolve(context.Background(), generateOp(candidates...), Call{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.URL != winner || res.Outcome.Status != status {
			t.Fatalf("got %s (%d), want %s (%d)", res.URL, res.Outcome.Status, winner, status)
		}
		calls := doer.Calls()
		if len(calls) != misses+1 {
			t.Fatalf("made %d calls, want %d", len(calls), misses+1)
		}
		for _, c := range calls {
			if len(c) > len("https://fake/tail") && c[:len("https://fake/tail")] == "https://fake/tail" {
				t.Fatalf("called candidate after the winner: %s", c)
			}
		}
		_, cached := endpoints.Lookup("generate")
		if cached != (status >= 200 && status < 300) {
			t.Fatalf("cache populated=%v for status %d", cached, status)
		}
	})
}

// TestProperty_CacheHitCallsOnce: with a fresh cache entry that answers 2xx, any number
// of successive resolutions make exactly one upstream call each.
func TestProperty_CacheHitCallsOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "resolutions")
		candidates := rapid.IntRange(1, 6).Draw(t, "candidates")
		winnerIdx := rapid.IntRange(0, candidates-1).Draw(t, "winner")

		doer := newScriptedDoer()
		list := make([]string, candidates)
		for i := range list {
			list[i] = fmt.Sprintf("https://fake/%d", i)
		}
		doer.reply(list[winnerIdx], http.StatusOK, `{}`)

		r := New(doer, cache.NewEndpointCache(time.Minute))
		if _, err := r.Resolve(context.Background(), generateOp(list...), Call{}); err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		first := len(doer.Calls())
		if first != winnerIdx+1 {
			t.Fatalf("first resolve made %d calls, want %d", first, winnerIdx+1)
		}
		for i := 0; i < n; i++ {
			res, err := r.Resolve(context.Background(), generateOp(list...), Call{})
			if err != nil || !res.FromCache {
				t.Fatalf("resolve %d: fromCache=%v err=%v", i, res.FromCache, err)
			}
		}
		if got := len(doer.Calls()) - first; got != n {
			t.Fatalf("cached resolutions made %d calls, want %d", got, n)
		}
	})
}
