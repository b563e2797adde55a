package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/halbridge/drivemirror/internal/port"
)

// FileSource acquires credentials from a Netscape cookie file maintained by
// an external collaborator. When RefreshCommand is set it is executed first,
// giving the collaborator a chance to rewrite the file from a live browser
// session.
type FileSource struct {
	// CookieFile is the path to the Netscape-format cookie file.
	CookieFile string

	// DomainFilter keeps only cookies whose domain contains this substring.
	DomainFilter string

	// RefreshCommand, when non-empty, is run (split on whitespace) before
	// the file is read.
	RefreshCommand string

	// CommandTimeout bounds the refresh command. Default 2 minutes.
	CommandTimeout time.Duration
}

// Ensure FileSource implements port.CredentialSource
var _ port.CredentialSource = (*FileSource)(nil)

// Credentials runs the refresh command if configured, then parses the
// cookie file.
func (s *FileSource) Credentials(ctx context.Context) (port.Credentials, error) {
	if s.RefreshCommand != "" {
		timeout := s.CommandTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		args := strings.Fields(s.RefreshCommand)
		cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("session refresh command: %w: %s", err, truncate(out, 200))
		}
	}

	f, err := os.Open(s.CookieFile)
	if err != nil {
		return nil, fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()

	return ParseNetscapeCookies(f, s.DomainFilter)
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
