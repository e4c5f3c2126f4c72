package slackchat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"
)

func TestTsToTime(t *testing.T) {
	ts := tsToTime("1732619040.123456")
	require.Equal(t, int64(1732619040), ts.Unix())
}

func TestTsToTimeMalformedFallsBackToNow(t *testing.T) {
	ts := tsToTime("not-a-timestamp")
	require.False(t, ts.IsZero())
}

func TestDownloadAttachmentUsesFileIDWhenPresent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file contents"))
	}))
	defer server.Close()

	dir := t.TempDir()
	l := &Listener{api: slack.New("xoxb-test"), workspace: dir}

	f := slack.File{ID: "F12345", Name: "photo.png", URLPrivateDownload: server.URL}
	path, err := l.downloadAttachment(context.Background(), "C1", f)
	require.NoError(t, err)
	require.Equal(t, filepath.Join("attachments", "F12345.png"), path)

	data, err := os.ReadFile(filepath.Join(dir, "C1", path))
	require.NoError(t, err)
	require.Equal(t, "file contents", string(data))
}

func TestDownloadAttachmentFallsBackToHashWhenFileIDEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	dir := t.TempDir()
	l := &Listener{api: slack.New("xoxb-test"), workspace: dir}

	f := slack.File{Name: "note.txt", URLPrivateDownload: server.URL}
	path, err := l.downloadAttachment(context.Background(), "C1", f)
	require.NoError(t, err)
	require.NotContains(t, path, "note.txt", "fallback name must not reuse the original filename verbatim")
	require.True(t, len(filepath.Base(path)) > 0)
}
