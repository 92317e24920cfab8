// Package main runs a demo WebSocket client for plan events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a plan with inline coordinates so no geo provider is needed
	body := []byte(`{"name":"ws demo","locations":[
		{"name":"Depot","point":{"lat":52.50,"lng":13.40}},
		{"name":"A","point":{"lat":52.52,"lng":13.41}},
		{"name":"B","point":{"lat":52.51,"lng":13.45}},
		{"name":"C","point":{"lat":52.49,"lng":13.43}}
	]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/plans", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Role", "admin")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var plan struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		log.Fatal(err)
	}
	if plan.ID == "" {
		log.Fatal("no plan id returned")
	}
	log.Printf("Plan ID: %s", plan.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to planEvents
	payload := map[string]any{
		"query":     "subscription($plan: ID!) { planEvents(plan: $plan) }",
		"variables": map[string]any{"plan": plan.ID},
	}
	pl, _ := json.Marshal(payload)
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Wait briefly to receive stage events, then show the final plan
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
	final, err := http.Get(base + "/v1/plans/" + plan.ID)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = final.Body.Close() }()
	var out map[string]any
	_ = json.NewDecoder(final.Body).Decode(&out)
	log.Printf("plan status: %v totalKm: %v", out["status"], func() any {
		if r, ok := out["result"].(map[string]any); ok {
			return r["totalKm"]
		}
		return nil
	}())
}
