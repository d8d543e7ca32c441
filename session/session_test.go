package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sa-tail/pkg/forum"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, baseURL string) *Session {
	t.Helper()
	sess, err := New(Options{BaseURL: baseURL, Logger: testLogger()})
	require.NoError(t, err)
	return sess
}

// forumStub mimics the login endpoint and a cookie-gated page.
func forumStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/account.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "login", r.FormValue("action"))
		if r.FormValue("username") != "catposter" || r.FormValue("password") != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:    "bbuserid",
			Value:   "101",
			Path:    "/",
			Expires: time.Now().Add(24 * time.Hour),
		})
		http.SetCookie(w, &http.Cookie{Name: "bbpassword", Value: "hash", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("bbuserid"); err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		io.WriteString(w, "ok")
	})
	return httptest.NewServer(mux)
}

func TestLoginStoresCookies(t *testing.T) {
	srv := forumStub(t)
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	require.NoError(t, sess.Login(context.Background(), "catposter", "hunter2"))

	body, err := sess.Get(context.Background(), "/check", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestLoginRejected(t *testing.T) {
	srv := forumStub(t)
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	err := sess.Login(context.Background(), "catposter", "wrong")
	assert.ErrorIs(t, err, ErrLogin)
}

func TestGetClientErrorNotRetried(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	_, err := sess.Get(context.Background(), "/gone", nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, 1, requests, "4xx must not be retried")
}

func TestGetSendsQueryParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		io.WriteString(w, "page")
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	_, err := sess.Get(context.Background(), "/bookmarkthreads.php", url.Values{
		"action":     {"view"},
		"pagenumber": {"2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "view", gotQuery.Get("action"))
	assert.Equal(t, "2", gotQuery.Get("pagenumber"))
}

func TestExportImportRoundTrip(t *testing.T) {
	srv := forumStub(t)
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	require.NoError(t, sess.Login(context.Background(), "catposter", "hunter2"))

	var snapshot bytes.Buffer
	require.NoError(t, sess.ExportCookies(&snapshot))

	var exported []Cookie
	require.NoError(t, json.Unmarshal(snapshot.Bytes(), &exported))
	names := make([]string, 0, len(exported))
	for _, c := range exported {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"bbuserid", "bbpassword"}, names)

	// A fresh session restored from the snapshot authenticates without a
	// new login.
	restored := newTestSession(t, srv.URL)
	require.NoError(t, restored.ImportCookies(&snapshot))
	body, err := restored.Get(context.Background(), "/check", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestImportSkipsExpiredAndForeignCookies(t *testing.T) {
	var gotCookies []*http.Cookie
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookies = r.Cookies()
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host := base.Hostname()

	snapshot, err := json.Marshal([]Cookie{
		{Name: "bbuserid", Value: "101", Domain: host, Path: "/", Expires: time.Now().Add(time.Hour)},
		{Name: "stale", Value: "x", Domain: host, Path: "/", Expires: time.Now().Add(-time.Hour)},
		{Name: "foreign", Value: "y", Domain: "example.com", Path: "/", Expires: time.Now().Add(time.Hour)},
	})
	require.NoError(t, err)

	sess := newTestSession(t, srv.URL)
	require.NoError(t, sess.ImportCookies(bytes.NewReader(snapshot)))

	_, err = sess.Get(context.Background(), "/", nil)
	require.NoError(t, err)

	require.Len(t, gotCookies, 1)
	assert.Equal(t, "bbuserid", gotCookies[0].Name)
	assert.Equal(t, "101", gotCookies[0].Value)
}

func TestImportMalformedSnapshot(t *testing.T) {
	sess := newTestSession(t, "http://127.0.0.1:1")
	err := sess.ImportCookies(strings.NewReader("not json at all"))
	assert.ErrorIs(t, err, ErrSnapshot)
}

func TestJarDropsDeletedCookies(t *testing.T) {
	jar, err := NewJar()
	require.NoError(t, err)
	u, err := url.Parse("http://forums.example.com/")
	require.NoError(t, err)

	jar.SetCookies(u, []*http.Cookie{
		{Name: "keep", Value: "1", Path: "/"},
		{Name: "gone", Value: "2", Path: "/"},
	})
	jar.SetCookies(u, []*http.Cookie{
		{Name: "gone", Value: "", Path: "/", MaxAge: -1},
	})

	entries := jar.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Name)
}

func TestPostMultipart(t *testing.T) {
	var gotFields map[string][]string
	var gotAttachment []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFields = r.MultipartForm.Value
		for _, f := range r.MultipartForm.File["attachment"] {
			gotAttachment = append(gotAttachment, f.Filename)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	status, err := sess.PostMultipart(context.Background(), "/newreply.php", forum.ReplyForm{
		Fields: map[string]string{
			"action":   "postreply",
			"threadid": "3960123",
			"message":  "hello",
		},
		AttachmentFilename: "cat.png",
		AttachmentContent:  []byte{0x89, 0x50},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	assert.Equal(t, []string{"postreply"}, gotFields["action"])
	assert.Equal(t, []string{"3960123"}, gotFields["threadid"])
	assert.Equal(t, []string{"hello"}, gotFields["message"])
	assert.Equal(t, []string{"cat.png"}, gotAttachment)
}

// An empty attachment still produces the part; with no filename the server
// sees it as a blank value rather than a file upload.
func TestPostMultipartEmptyAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, present := r.MultipartForm.Value["attachment"]
		assert.True(t, present, "attachment part must always be sent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sess := newTestSession(t, srv.URL)
	status, err := sess.PostMultipart(context.Background(), "/newreply.php", forum.ReplyForm{
		Fields: map[string]string{"message": "no attachment"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}
