package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type roomState struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CurrentRound int    `json:"currentRound"`
	TotalRounds  int    `json:"totalRounds"`
	Prompt       string `json:"prompt"`
	Players      []struct {
		Nickname string `json:"nickname"`
		Score    int    `json:"score"`
	} `json:"players"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

// call posts body to path and decodes the JSON reply into out.
func (c *client) call(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func send(c *websocket.Conn, msgType string, payload any) error {
	env := envelope{Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	return c.WriteJSON(env)
}

func main() {
	server := flag.String("server", "http://localhost:8080", "game server base URL")
	nick := flag.String("nick", "bot", "nickname")
	roomID := flag.String("room", "", "room code to join; empty creates a room")
	wordCount := flag.Int("words", 5, "words per game when creating a room")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	c := &client{base: strings.TrimRight(*server, "/"), http: &http.Client{Timeout: 10 * time.Second}}
	var sess struct {
		Token    string `json:"token"`
		PlayerID string `json:"playerId"`
	}
	if err := c.call(http.MethodPost, "/api/session", map[string]string{"nickname": *nick}, &sess); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
	c.token = sess.Token
	log.Printf("Playing as %s (%s)", *nick, sess.PlayerID)

	var room roomState
	if *roomID == "" {
		req := map[string]any{
			"maxPlayers": 4,
			"settings": map[string]any{
				"wordCount":          *wordCount,
				"timePerWord":        15,
				"wordSource":         "categories",
				"selectedCategories": []string{"Beginner"},
			},
		}
		if err := c.call(http.MethodPost, "/api/rooms", req, &room); err != nil {
			log.Fatalf("Create room failed: %v", err)
		}
		log.Printf("Created room %s; share the code and type 'start' when everyone joined.", room.ID)
	} else {
		if err := c.call(http.MethodPost, "/api/rooms/"+*roomID+"/join", map[string]string{}, &room); err != nil {
			log.Fatalf("Join failed: %v", err)
		}
		log.Printf("Joined room %s", room.ID)
	}

	u, err := url.Parse(c.base)
	if err != nil {
		log.Fatalf("Bad server URL: %v", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = url.Values{"room": {room.ID}, "token": {c.token}}.Encode()
	log.Printf("Connecting to %s", u.Redacted())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var currentRound, roundStart atomic.Int64
	currentRound.Store(int64(room.CurrentRound))
	roundStart.Store(time.Now().UnixNano())
	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				log.Println("Read error:", err)
				return
			}
			switch env.Type {
			case "room_state":
				var st roomState
				if err := json.Unmarshal(env.Payload, &st); err != nil {
					continue
				}
				if currentRound.Swap(int64(st.CurrentRound)) != int64(st.CurrentRound) || st.Status != "playing" {
					roundStart.Store(time.Now().UnixNano())
				}
				if st.Status == "playing" {
					log.Printf("Round %d/%d: %s", st.CurrentRound+1, st.TotalRounds, st.Prompt)
				} else {
					log.Printf("Room %s is %s with %d players", st.ID, st.Status, len(st.Players))
				}
			default:
				log.Printf("<- %s %s", env.Type, string(env.Payload))
			}
		}
	}()

	log.Println("Type an answer, or one of: start, advance, close, reveal, lobby, leave.")

	// Write loop
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupted, closing.")
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case line := <-lines:
			var err error
			switch line {
			case "":
				continue
			case "start":
				err = c.call(http.MethodPost, "/api/rooms/"+room.ID+"/start", nil, nil)
			case "lobby":
				err = c.call(http.MethodPost, "/api/rooms/"+room.ID+"/lobby", nil, nil)
			case "advance":
				err = send(conn, "advance_round", nil)
			case "close":
				err = send(conn, "force_close_round", nil)
			case "reveal":
				err = send(conn, "reveal_final_scores", nil)
			case "leave":
				err = send(conn, "leave_room", nil)
			default:
				err = send(conn, "submit_answer", map[string]any{
					"round":       currentRound.Load(),
					"answer":      line,
					"elapsedTime": int(time.Since(time.Unix(0, roundStart.Load())).Seconds()),
				})
			}
			if err != nil {
				log.Println("Write error:", err)
			}
		}
	}
}
