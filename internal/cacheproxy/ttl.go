package cacheproxy

import (
	"net/http"
	"strings"
	"time"
)

// TTLFor chooses how long a response stays fresh. Error statuses get short
// fixed lifetimes; successful responses are bucketed by endpoint.
func TTLFor(pathAndQuery string, status int, defaultTTL time.Duration) time.Duration {
	def := int(defaultTTL / time.Second)

	var seconds int
	switch {
	case status == http.StatusTooManyRequests:
		seconds = 10
	case status >= 500 && status <= 599:
		seconds = 5
	case status == http.StatusNotFound:
		seconds = 25
	case status >= 400 && status <= 499:
		seconds = 20
	case status != http.StatusOK:
		seconds = max(10, def/2)
	default:
		seconds = successTTL(strings.ToLower(pathAndQuery), def)
	}
	return time.Duration(seconds) * time.Second
}

func successTTL(path string, def int) int {
	switch {
	case strings.HasPrefix(path, "/api/leaderboard"), strings.HasPrefix(path, "/api/record-leaderboard"):
		return max(def, 300)
	case strings.HasPrefix(path, "/api/matches?page="):
		return min(max(def, 120), 300)
	case strings.Contains(path, "/api/users/") && strings.Contains(path, "/matches"):
		return min(max(def, 60), 240)
	case strings.HasPrefix(path, "/api/users/"):
		return min(max(def, 90), 300)
	case strings.HasPrefix(path, "/api/matches/"):
		return min(max(def, 120), 360)
	}
	return def
}
