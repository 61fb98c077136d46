package archive

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cfgkeeper/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRepo emulates the subset of the GitHub contents API the writer uses
type fakeRepo struct {
	mu      sync.Mutex
	files   map[string]storedFile
	puts    []putRequest
	getFail int
	// afterGet runs with the lock held once a read has been answered
	afterGet func(files map[string]storedFile)
}

type storedFile struct {
	SHA     string
	Content []byte
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{files: map[string]storedFile{}}
}

func (f *fakeRepo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != "bot" || pass != "ghp_token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/contents/")
	switch r.Method {
	case http.MethodGet:
		if f.getFail != 0 {
			w.WriteHeader(f.getFail)
			return
		}
		file, ok := f.files[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sha": file.SHA, "path": path})
		if f.afterGet != nil {
			f.afterGet(f.files)
		}

	case http.MethodPut:
		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.puts = append(f.puts, req)

		current, exists := f.files[path]
		if exists && req.SHA != current.SHA {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"sha does not match"}`))
			return
		}
		if !exists && req.SHA != "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		content, _ := base64.StdEncoding.DecodeString(req.Content)
		sum := sha1.Sum(append([]byte(req.Message), content...))
		file := storedFile{SHA: hex.EncodeToString(sum[:]), Content: content}
		f.files[path] = file

		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusCreated)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": file.SHA}})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestWriter(t *testing.T, url string) *Writer {
	t.Helper()
	return NewWriter(Options{
		URL:       url,
		User:      "bot",
		Token:     "ghp_token",
		Committer: types.Committer{Name: "cfgkeeper", Email: "cfgkeeper@example.com"},
		VerifySSL: true,
	}, zaptest.NewLogger(t))
}

func TestCommitCreatesRecord(t *testing.T) {
	repo := newFakeRepo()
	srv := httptest.NewServer(repo)
	defer srv.Close()

	w := newTestWriter(t, srv.URL)
	ref := types.EntityReference{Type: "HOST", ID: "h1"}

	record, err := w.Commit(context.Background(), ref, types.ConfigSnapshot(`{"items":[{"a":1}]}`), "alice", 4000)
	require.NoError(t, err)

	assert.Equal(t, "h1/HOST.json", record.Path)
	assert.Equal(t, "alice 4000", record.Message)
	assert.True(t, record.Created())
	assert.NotEmpty(t, record.SHA)

	require.Len(t, repo.puts, 1)
	put := repo.puts[0]
	assert.Equal(t, "alice 4000", put.Message)
	assert.Empty(t, put.SHA)
	assert.Equal(t, "cfgkeeper", put.Committer.Name)
	assert.Equal(t, "cfgkeeper@example.com", put.Committer.Email)

	content, err := base64.StdEncoding.DecodeString(put.Content)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"items\": [\n    {\n      \"a\": 1\n    }\n  ]\n}", string(content))
}

func TestCommitTwiceIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	srv := httptest.NewServer(repo)
	defer srv.Close()

	w := newTestWriter(t, srv.URL)
	ref := types.EntityReference{Type: "Alerting:Profile", ID: "p1"}
	snap := types.ConfigSnapshot(`{"name":"Default"}`)

	first, err := w.Commit(context.Background(), ref, snap, "bob", 1)
	require.NoError(t, err)
	assert.Equal(t, "p1/Alerting_Profile.json", first.Path)

	second, err := w.Commit(context.Background(), ref, snap, "bob", 1)
	require.NoError(t, err)

	assert.Equal(t, first.SHA, second.PreviousSHA)
	assert.False(t, second.Created())
	require.Len(t, repo.puts, 2)
	assert.Equal(t, first.SHA, repo.puts[1].SHA)
}

func TestCommitFailsOnUnexpectedRead(t *testing.T) {
	repo := newFakeRepo()
	repo.getFail = http.StatusInternalServerError
	srv := httptest.NewServer(repo)
	defer srv.Close()

	w := newTestWriter(t, srv.URL)
	_, err := w.Commit(context.Background(), types.EntityReference{Type: "HOST", ID: "h1"}, types.ConfigSnapshot(`{}`), "alice", 1)
	require.Error(t, err)
	assert.Empty(t, repo.puts, "no write after a failed read")
}

func TestCommitSurfacesStaleSHA(t *testing.T) {
	repo := newFakeRepo()
	srv := httptest.NewServer(repo)
	defer srv.Close()

	w := newTestWriter(t, srv.URL)
	ref := types.EntityReference{Type: "HOST", ID: "h1"}
	_, err := w.Commit(context.Background(), ref, types.ConfigSnapshot(`{"v":1}`), "alice", 1)
	require.NoError(t, err)

	// An external edit lands between our read and our write
	repo.mu.Lock()
	repo.afterGet = func(files map[string]storedFile) {
		files["h1/HOST.json"] = storedFile{SHA: "external"}
	}
	repo.mu.Unlock()

	_, err = w.Commit(context.Background(), ref, types.ConfigSnapshot(`{"v":2}`), "alice", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConflict)
	assert.Len(t, repo.puts, 2, "conflicts are not retried")
	assert.Equal(t, "external", repo.files["h1/HOST.json"].SHA)
}

func TestCommitRejectsInvalidSnapshot(t *testing.T) {
	repo := newFakeRepo()
	srv := httptest.NewServer(repo)
	defer srv.Close()

	w := newTestWriter(t, srv.URL)
	_, err := w.Commit(context.Background(), types.EntityReference{Type: "HOST", ID: "h1"}, types.ConfigSnapshot(`{broken`), "alice", 1)
	assert.Error(t, err)
	assert.Empty(t, repo.puts)
}

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "alice 4000", CommitMessage("alice", 4000))

	long := CommitMessage("someone.with.a.very.long.name@example.com", 1700000000000)
	assert.Len(t, []rune(long), MaxMessageLength)
	assert.Equal(t, "someone.with.a.very.long.name@example.co", long)

	multibyte := CommitMessage(strings.Repeat("é", 45), 1)
	assert.Equal(t, MaxMessageLength, len([]rune(multibyte)))
}

func TestRecordPath(t *testing.T) {
	assert.Equal(t, "h1/HOST.json", RecordPath(types.EntityReference{Type: "HOST", ID: "h1"}))
	assert.Equal(t, "x/builtin_alerting.profile.json", RecordPath(types.EntityReference{Type: "builtin:alerting.profile", ID: "x"}))
	assert.Equal(t, "__/HOST.json", RecordPath(types.EntityReference{Type: "HOST", ID: ".."}))
	assert.Equal(t, "a_b/HOST.json", RecordPath(types.EntityReference{Type: "HOST", ID: "a/b"}))
}
