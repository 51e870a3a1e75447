package main

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
)

// Flaky downstream for exercising the gateway's retry and breaker
// behavior by hand: every path fails with 503 until it has been hit
// ?fails=N times, then answers 200.
func main() {
	var mu sync.Mutex
	hits := make(map[string]int)

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fails, _ := strconv.Atoi(r.URL.Query().Get("fails"))

		mu.Lock()
		hits[r.URL.Path]++
		n := hits[r.URL.Path]
		mu.Unlock()

		log.Printf("hit %d: %s %s (correlation %s)", n, r.Method, r.URL.Path, r.Header.Get("X-Correlation-Id"))

		if n <= fails {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"message": "hello from flaky backend", "path": "%s", "hits": %d}`, r.URL.Path, n)
	})

	log.Println("Flaky backend starting on :3001")
	if err := http.ListenAndServe(":3001", nil); err != nil {
		log.Fatal(err)
	}
}
