package testsupport

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeMessage is a mail served by FakeGmail.
type FakeMessage struct {
	ID        string
	ThreadID  string
	HistoryID int
	From      string
	Subject   string
	Text      string
	HTML      string
}

// FakeGmail serves the subset of the Gmail REST API and the OAuth token
// endpoint used by ingestion.
type FakeGmail struct {
	Server *httptest.Server

	mu             sync.Mutex
	messages       []FakeMessage
	historyID      int
	historyExpired bool
	gets           map[string]int
	failing        map[string]bool
	tokenRefreshes int
	historyCalls   int
	listCalls      int
}

// NewFakeGmail starts a fake server that is closed with the test.
func NewFakeGmail(t testing.TB) *FakeGmail {
	t.Helper()
	f := &FakeGmail{gets: make(map[string]int), failing: make(map[string]bool), historyID: 100}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", f.handleToken)
	mux.HandleFunc("GET /users/me/messages", f.authorized(f.handleList))
	mux.HandleFunc("GET /users/me/messages/{id}", f.authorized(f.handleGet))
	mux.HandleFunc("GET /users/me/history", f.authorized(f.handleHistory))
	mux.HandleFunc("GET /users/me/profile", f.authorized(f.handleProfile))
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake API.
func (f *FakeGmail) URL() string {
	return f.Server.URL
}

// AddMessage makes msg visible to list and history queries. A zero
// HistoryID gets the next id.
func (f *FakeGmail) AddMessage(msg FakeMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.HistoryID == 0 {
		f.historyID++
		msg.HistoryID = f.historyID
	} else if msg.HistoryID > f.historyID {
		f.historyID = msg.HistoryID
	}
	if msg.ThreadID == "" {
		msg.ThreadID = "thread-" + msg.ID
	}
	f.messages = append([]FakeMessage{msg}, f.messages...)
}

// ExpireHistory makes the history endpoint answer 404.
func (f *FakeGmail) ExpireHistory(expired bool) {
	f.mu.Lock()
	f.historyExpired = expired
	f.mu.Unlock()
}

// FailGet makes fetches of message id answer 500 until cleared.
func (f *FakeGmail) FailGet(id string, fail bool) {
	f.mu.Lock()
	f.failing[id] = fail
	f.mu.Unlock()
}

// Gets returns how many times message id was fetched.
func (f *FakeGmail) Gets(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[id]
}

// TokenRefreshes returns how many refresh grants were served.
func (f *FakeGmail) TokenRefreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenRefreshes
}

// Calls returns the number of history and list requests served.
func (f *FakeGmail) Calls() (history, list int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls, f.listCalls
}

// HistoryID returns the newest history id.
func (f *FakeGmail) HistoryID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strconv.Itoa(f.historyID)
}

func (f *FakeGmail) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (f *FakeGmail) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "refresh_token" {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.tokenRefreshes++
	n := f.tokenRefreshes
	f.mu.Unlock()
	writeFakeJSON(w, map[string]any{
		"access_token": "fresh-token-" + strconv.Itoa(n),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (f *FakeGmail) handleList(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.listCalls++
	refs := make([]map[string]string, 0, len(f.messages))
	for _, msg := range f.messages {
		refs = append(refs, map[string]string{"id": msg.ID, "threadId": msg.ThreadID})
	}
	f.mu.Unlock()
	writeFakeJSON(w, map[string]any{"messages": refs})
}

func (f *FakeGmail) handleHistory(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyCalls++
	if f.historyExpired {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("startHistoryId"))
	var history []map[string]any
	for _, msg := range f.messages {
		if msg.HistoryID <= start {
			continue
		}
		history = append(history, map[string]any{
			"id": strconv.Itoa(msg.HistoryID),
			"messagesAdded": []any{
				map[string]any{"message": map[string]string{"id": msg.ID, "threadId": msg.ThreadID}},
			},
		})
	}
	writeFakeJSON(w, map[string]any{"history": history, "historyId": strconv.Itoa(f.historyID)})
}

func (f *FakeGmail) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	f.gets[id]++
	failing := f.failing[id]
	var found *FakeMessage
	for i := range f.messages {
		if f.messages[i].ID == id {
			found = &f.messages[i]
			break
		}
	}
	f.mu.Unlock()
	if failing {
		http.Error(w, `{"error":"backend error"}`, http.StatusInternalServerError)
		return
	}
	if found == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	var parts []map[string]any
	if found.Text != "" {
		parts = append(parts, fakePart("text/plain; charset=UTF-8", found.Text))
	}
	if found.HTML != "" {
		parts = append(parts, fakePart("text/html; charset=UTF-8", found.HTML))
	}
	writeFakeJSON(w, map[string]any{
		"id":           found.ID,
		"threadId":     found.ThreadID,
		"historyId":    strconv.Itoa(found.HistoryID),
		"internalDate": "1767225600000",
		"snippet":      found.Subject,
		"payload": map[string]any{
			"mimeType": "multipart/alternative",
			"headers": []map[string]string{
				{"name": "From", "value": found.From},
				{"name": "Subject", "value": found.Subject},
			},
			"body":  map[string]any{"size": 0},
			"parts": parts,
		},
	})
}

func (f *FakeGmail) handleProfile(w http.ResponseWriter, _ *http.Request) {
	writeFakeJSON(w, map[string]string{"emailAddress": "me@example.com", "historyId": f.HistoryID()})
}

func fakePart(mimeType, content string) map[string]any {
	return map[string]any{
		"mimeType": mimeType,
		"body": map[string]any{
			"size": len(content),
			"data": base64.URLEncoding.EncodeToString([]byte(content)),
		},
	}
}

func writeFakeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
