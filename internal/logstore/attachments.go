package logstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// InboundFile describes a chat-service file reference to download.
type InboundFile struct {
	ID        string // stable file id from the chat service, if any
	Name      string // original filename (used for extension + fallback hashing)
	URL       string // authenticated download URL
	AuthToken string // bearer token for the download request, if required
}

// DownloadAttachment fetches f into the channel's attachments/ directory using
// a stable, collision-free name derived from the file id (or, absent a stable
// id, a hash of the file's metadata) plus its original extension. A partial
// download is removed so a failed fetch never leaves a corrupt attachment
// behind (spec §4.2 "Store — attachment intake").
func (s *Store) DownloadAttachment(f InboundFile) (Attachment, error) {
	if err := s.EnsureLayout(); err != nil {
		return Attachment{}, err
	}

	name := stableAttachmentName(f)
	dest := filepath.Join(s.Dirs().Attachments, name)

	if err := downloadTo(dest, f); err != nil {
		os.Remove(dest)
		return Attachment{}, fmt.Errorf("logstore: download attachment: %w", err)
	}

	rel, err := filepath.Rel(s.ChannelDir(), dest)
	if err != nil {
		rel = filepath.Join("attachments", name)
	}
	return Attachment{LocalPath: rel}, nil
}

// stableAttachmentName derives a deterministic, collision-free file name.
// Preferred: <fileID><ext>. Fallback (§9 open question — "attachment name
// stability"): a hash of the file's metadata plus extension, exercised only
// when the chat service doesn't expose a stable file id.
func stableAttachmentName(f InboundFile) string {
	ext := filepath.Ext(f.Name)
	if f.ID != "" {
		return f.ID + ext
	}
	h := sha256.Sum256([]byte(f.Name + "|" + f.URL))
	return hex.EncodeToString(h[:])[:24] + ext
}

func downloadTo(dest string, f InboundFile) error {
	req, err := http.NewRequest(http.MethodGet, f.URL, nil)
	if err != nil {
		return err
	}
	if f.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.AuthToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %s", f.URL, resp.Status)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	return out.Sync()
}
