package listsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr/nip19"
	"go.uber.org/zap"

	"github.com/pablof7z/purplewatch/model"
)

// DefaultURLTemplate points at the blockbot CSV export; %s is the list id.
const DefaultURLTemplate = "https://www.theblockbot.com/show-blocks/%s.csv"

// WebList fetches block lists published as CSV, one account per record.
type WebList struct {
	client      *http.Client
	urlTemplate string
	log         *zap.Logger
}

type Option func(*WebList)

func WithHTTPClient(c *http.Client) Option {
	return func(w *WebList) { w.client = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *WebList) { w.log = logger.Named("weblist") }
}

func NewWebList(urlTemplate string, timeout time.Duration, opts ...Option) *WebList {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	w := &WebList{
		client:      &http.Client{Timeout: timeout},
		urlTemplate: urlTemplate,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Fetch downloads a list and returns the account ids it names.
func (w *WebList) Fetch(ctx context.Context, listID string) ([]string, error) {
	if strings.TrimSpace(listID) == "" {
		return nil, errors.New("empty list id")
	}
	target := fmt.Sprintf(w.urlTemplate, url.PathEscape(listID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv, text/plain")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch %s: unexpected status %s", target, resp.Status)
	}

	ids, skipped, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}
	if skipped > 0 {
		w.log.Debug("skipped unparseable entries", zap.String("list", listID), zap.Int("skipped", skipped))
	}
	return ids, nil
}

// Parse reads a CSV list. The first field of each record is an account id in
// hex or npub form; blank lines and lines starting with # are ignored.
func Parse(r io.Reader) (ids []string, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	seen := make(map[string]struct{})
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, skipped, err
		}
		if len(record) == 0 {
			continue
		}
		field := strings.TrimSpace(record[0])
		if field == "" {
			continue
		}
		id, ok := NormalizeAccountID(field)
		if !ok {
			skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, skipped, nil
}

// NormalizeAccountID accepts a hex public key or an npub and returns the hex form.
func NormalizeAccountID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "npub1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil || prefix != "npub" {
			return "", false
		}
		pk, ok := value.(string)
		return pk, ok && model.IsAccountID(pk)
	}
	s = strings.ToLower(s)
	return s, model.IsAccountID(s)
}
