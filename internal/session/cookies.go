// Package session manages the credential set used by generic file
// downloads: parsing the cookie file maintained by the external browser
// collaborator and refreshing it on a fixed interval.
package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/halbridge/drivemirror/internal/port"
)

// ParseNetscapeCookies reads a Netscape-format cookie file (the format
// curl, yt-dlp, and browser exporters share) into a credential set.
// When domainFilter is non-empty, only cookies whose domain contains it are
// kept.
//
// Format per line: domain, include-subdomains flag, path, secure flag,
// expiry, name, value — tab separated. Comments and blank lines are skipped.
func ParseNetscapeCookies(r io.Reader, domainFilter string) (port.Credentials, error) {
	creds := make(port.Credentials)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		domain := fields[0]
		if domainFilter != "" && !strings.Contains(domain, domainFilter) {
			continue
		}
		creds[fields[5]] = fields[6]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return creds, nil
}
