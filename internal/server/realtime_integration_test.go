package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

// The SSE stream must only carry events for mutations that have committed:
// every received payload is cross-checked against a subsequent store read.
func TestStreamEmitsPollUpdates(t *testing.T) {
	server := newTestServer(t, "realtime_integration")

	creator := registerAccount(t, server, "alice", "alice@example.com")
	voter := registerAccount(t, server, "bob", "bob@example.com")

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/polls/stream?access_token="+voter.Token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	streamReader := bufio.NewReader(streamResp.Body)

	createResp := doJSON(t, http.MethodPost, server.URL+"/polls", creator.Token, map[string]any{
		"question": "Pizza or Pasta?",
		"options":  []string{"Pizza", "Pasta"},
	})
	var created pollResult
	decodeBody(t, createResp, &created)
	if createResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected create status: %d", createResp.StatusCode)
	}

	createdEvent := readPollEvent(t, streamReader)
	if createdEvent.Action != "created" || createdEvent.Poll.ID != created.ID {
		t.Fatalf("unexpected created event: %+v", createdEvent)
	}
	if createdEvent.Poll.Question != "Pizza or Pasta?" {
		t.Fatalf("unexpected question in event: %q", createdEvent.Poll.Question)
	}

	voteResp := doJSON(t, http.MethodPost, server.URL+"/polls/"+created.ID+"/vote", voter.Token, map[string]int{"optionIndex": 0})
	voteResp.Body.Close()
	if voteResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected vote status: %d", voteResp.StatusCode)
	}

	votedEvent := readPollEvent(t, streamReader)
	if votedEvent.Action != "voted" || votedEvent.Poll.ID != created.ID {
		t.Fatalf("unexpected voted event: %+v", votedEvent)
	}
	if votedEvent.Poll.Options[0].Votes != 1 || votedEvent.Poll.Options[1].Votes != 0 {
		t.Fatalf("unexpected tallies in event: %+v", votedEvent.Poll.Options)
	}

	// The notified state is observable by a subsequent read.
	getResp := doJSON(t, http.MethodGet, server.URL+"/polls/"+created.ID, voter.Token, nil)
	var stored pollResult
	decodeBody(t, getResp, &stored)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected get status: %d", getResp.StatusCode)
	}
	if stored.Options[0].Votes != votedEvent.Poll.Options[0].Votes {
		t.Fatalf("stream reported %d votes, store has %d", votedEvent.Poll.Options[0].Votes, stored.Options[0].Votes)
	}
	if len(stored.VotedBy) != 1 || stored.VotedBy[0] != voter.User.ID {
		t.Fatalf("unexpected stored voter set: %v", stored.VotedBy)
	}
}

func TestStreamRejectsMissingToken(t *testing.T) {
	server := newTestServer(t, "realtime_unauthorized")

	resp, err := http.Get(server.URL + "/polls/stream")
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

type streamedEvent struct {
	Action string     `json:"action"`
	Poll   pollResult `json:"poll"`
}

func readPollEvent(t *testing.T, streamReader *bufio.Reader) streamedEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	currentEventType := ""
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			if currentEventType != RealtimeEventPollsUpdate {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var event streamedEvent
			if err := json.Unmarshal([]byte(dataJSON), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			return event
		}
	}
}
