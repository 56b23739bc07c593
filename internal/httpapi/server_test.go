package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/denwa-ai/denwa/internal/audio"
	"github.com/denwa-ai/denwa/internal/config"
	"github.com/denwa-ai/denwa/internal/session"
	"github.com/denwa-ai/denwa/internal/synthesis"
	"github.com/denwa-ai/denwa/internal/telephony"
	"github.com/denwa-ai/denwa/internal/voice"
)

// fakeCallService records the calls the HTTP layer makes.
type fakeCallService struct {
	mu        sync.Mutex
	created   []string
	ended     []string
	ingested  map[string]int
	recording []byte
}

func newFakeCallService() *fakeCallService {
	return &fakeCallService{ingested: make(map[string]int)}
}

func (f *fakeCallService) CreateSession(id string) (*session.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, id)
	return nil, nil
}

func (f *fakeCallService) IngestAudio(callID string, _ audio.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested[callID]++
	return nil
}

func (f *fakeCallService) GetState(callID string) (session.Snapshot, error) {
	if callID != "CA1" {
		return session.Snapshot{}, session.ErrNotFound
	}
	return session.Snapshot{ID: callID, State: session.StateListening}, nil
}

func (f *fakeCallService) Snapshots() []session.Snapshot {
	return []session.Snapshot{{ID: "CA1", State: session.StateListening}}
}

func (f *fakeCallService) EndSession(callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, callID)
	return nil
}

func (f *fakeCallService) ExportRecording(callID string) ([]byte, error) {
	if f.recording == nil {
		return nil, voice.ErrNoRecording
	}
	return f.recording, nil
}

func (f *fakeCallService) ingestCount(callID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ingested[callID]
}

func (f *fakeCallService) endedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ended))
	copy(out, f.ended)
	return out
}

func newTestServer(t *testing.T, calls CallService) (*httptest.Server, *telephony.AudioCache) {
	t.Helper()
	cache := telephony.NewAudioCache(time.Minute)
	srv := New(config.Config{
		PublicBaseURL:   "https://denwa.example.com",
		SampleRateHertz: 8000,
	}, calls, cache, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, cache
}

func TestAnswerReturnsStreamTwiML(t *testing.T) {
	ts, _ := newTestServer(t, newFakeCallService())

	res, err := http.Post(ts.URL+"/telephony/answer", "application/x-www-form-urlencoded",
		strings.NewReader("CallSid=CA1"))
	if err != nil {
		t.Fatalf("POST answer: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("content type = %q, want application/xml", ct)
	}
	var body strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := res.Body.Read(buf)
		body.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(body.String(), "wss://denwa.example.com/telephony/media-stream") {
		t.Fatalf("twiml missing stream url: %s", body.String())
	}
}

func TestClipAudioServedAsWAV(t *testing.T) {
	fake := newFakeCallService()
	ts, cache := newTestServer(t, fake)

	id := cache.Put(synthesis.Clip{
		Text:       "テスト",
		Audio:      []byte{0x7f, 0x7f, 0x7f},
		Encoding:   "mulaw",
		SampleRate: 8000,
	})

	res, err := http.Get(ts.URL + "/telephony/audio/" + id)
	if err != nil {
		t.Fatalf("GET clip: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type = %q, want audio/wav", ct)
	}

	res, err = http.Get(ts.URL + "/telephony/audio/missing")
	if err != nil {
		t.Fatalf("GET missing clip: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestCallStatusEndsSession(t *testing.T) {
	fake := newFakeCallService()
	ts, _ := newTestServer(t, fake)

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	res, err := http.PostForm(ts.URL+"/telephony/status", form)
	if err != nil {
		t.Fatalf("POST status: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", res.StatusCode)
	}
	if got := fake.endedCalls(); len(got) != 1 || got[0] != "CA1" {
		t.Fatalf("ended calls = %v, want [CA1]", got)
	}

	// Intermediate statuses must not tear the call down.
	form.Set("CallStatus", "in-progress")
	res, err = http.PostForm(ts.URL+"/telephony/status", form)
	if err != nil {
		t.Fatalf("POST status: %v", err)
	}
	res.Body.Close()
	if got := fake.endedCalls(); len(got) != 1 {
		t.Fatalf("ended calls = %v, want exactly one", got)
	}
}

func TestListAndGetCalls(t *testing.T) {
	ts, _ := newTestServer(t, newFakeCallService())

	res, err := http.Get(ts.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("GET calls: %v", err)
	}
	defer res.Body.Close()
	var list struct {
		Calls []session.Snapshot `json:"calls"`
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Calls) != 1 || list.Calls[0].ID != "CA1" {
		t.Fatalf("calls = %+v", list.Calls)
	}

	res, err = http.Get(ts.URL + "/v1/calls/CA1")
	if err != nil {
		t.Fatalf("GET call: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	res, err = http.Get(ts.URL + "/v1/calls/CA-unknown")
	if err != nil {
		t.Fatalf("GET unknown call: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestRecordingNotFound(t *testing.T) {
	ts, _ := newTestServer(t, newFakeCallService())

	res, err := http.Get(ts.URL + "/v1/calls/CA1/recording")
	if err != nil {
		t.Fatalf("GET recording: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestMediaStreamLifecycle(t *testing.T) {
	fake := newFakeCallService()
	ts, _ := newTestServer(t, fake)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/telephony/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(v string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(v)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	send(`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA9","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`)

	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	for i := 0; i < 3; i++ {
		send(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"` + payload + `"}}`)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fake.ingestCount("CA9") == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got := fake.ingestCount("CA9"); got != 3 {
		t.Fatalf("ingested = %d, want 3", got)
	}

	send(`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA9"}}`)
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fake.endedCalls()) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("ended calls = %v, want [CA9]", fake.endedCalls())
}
