// Package session tracks which game requests are in flight per user, so
// duplicate triggers (two scheduler ticks, a manual run racing a cron run)
// get rejected before they touch the game.
package session

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "herobot/pkg/logx"
)

// ActiveRequest describes one in-flight request for the admin surface.
type ActiveRequest struct {
	Key       string        `json:"key"`
	Username  string        `json:"username"`
	Type      string        `json:"type"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Registry is a process-wide set of in-flight request keys. Keys are scoped
// to (user, request type, account set) so the same user can run unrelated
// requests concurrently while identical ones collapse to a single run.
type Registry struct {
	mu     sync.Mutex
	active map[string]entry
	log    logx.Logger
}

type entry struct {
	username string
	reqType  string
	started  time.Time
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		active: map[string]entry{},
		log:    log,
	}
}

// Key builds the dedup key for a request. Account order does not matter:
// the slice is sorted before hashing, so ["a","b"] and ["b","a"] collide.
func Key(username, reqType string, accounts []string) string {
	sorted := make([]string, len(accounts))
	copy(sorted, accounts)
	sort.Strings(sorted)

	h := fnv.New64a()
	for _, a := range sorted {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	return username + ":" + reqType + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// MarkActive records the key as in flight. Returns false when an identical
// request is already running; the caller must skip the work.
func (r *Registry) MarkActive(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[key]; exists {
		return false
	}
	username, reqType := splitKey(key)
	r.active[key] = entry{username: username, reqType: reqType, started: time.Now()}
	r.log.Debug("request marked active", logx.String("key", key))
	return true
}

// MarkInactive removes the key. Safe to call for keys that were never
// marked, so callers can defer it unconditionally.
func (r *Registry) MarkInactive(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[key]; !exists {
		return
	}
	delete(r.active, key)
	r.log.Debug("request marked inactive", logx.String("key", key))
}

// IsActive reports whether the key is currently in flight.
func (r *Registry) IsActive(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.active[key]
	return exists
}

// ActiveForUser lists the user's in-flight requests, oldest first.
func (r *Registry) ActiveForUser(username string) []ActiveRequest {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ActiveRequest
	for key, e := range r.active {
		if e.username != username {
			continue
		}
		out = append(out, ActiveRequest{
			Key:       key,
			Username:  e.username,
			Type:      e.reqType,
			StartedAt: e.started,
			Elapsed:   now.Sub(e.started),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ClearUser drops every key for the user and returns how many were removed.
// Used when a user's session is torn down while requests may still be
// registered.
func (r *Registry) ClearUser(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, e := range r.active {
		if e.username == username {
			delete(r.active, key)
			n++
		}
	}
	if n > 0 {
		r.log.Info("cleared active requests",
			logx.String("username", username), logx.Int("count", n))
	}
	return n
}

// Len returns the number of in-flight requests across all users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func splitKey(key string) (username, reqType string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) >= 2 {
		return parts[0], parts[1]
	}
	return key, ""
}
