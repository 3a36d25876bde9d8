package avatar

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/singleflight"
)

// DefaultLookupTimeout bounds a single lookup request.
const DefaultLookupTimeout = 10 * time.Second

// record is a single entry of a lookup response.
type record struct {
	Name     string `mapstructure:"name"`
	Hash     string `mapstructure:"hash"`
	Download string `mapstructure:"download"`
}

// ModelSaber looks up download URLs on a ModelSaber compatible API.
type ModelSaber struct {
	baseURL string
	client  *http.Client
	logger  logr.Logger
	sf      singleflight.Group
}

// NewModelSaber creates a lookup client for the API at baseURL.
func NewModelSaber(baseURL string, timeout time.Duration, logger logr.Logger) *ModelSaber {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &ModelSaber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Lookup returns the download URL of hash. Concurrent lookups of the same
// hash share one request.
func (m *ModelSaber) Lookup(ctx context.Context, hash string) (string, error) {
	v, err, shared := m.sf.Do(hash, func() (any, error) {
		return m.lookup(ctx, hash)
	})
	if shared {
		m.logger.V(1).Info("shared avatar lookup", "hash", hash)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *ModelSaber) lookup(ctx context.Context, hash string) (string, error) {
	u := m.baseURL + "/api/v1/avatar/get.php?filter=" + url.QueryEscape("hash:"+hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create lookup request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup returned %s", resp.Status)
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode lookup response: %w", err)
	}

	raw, ok := firstRecord(body)
	if !ok {
		return "", fmt.Errorf("hash %s: %w", hash, ErrNotFound)
	}

	var rec record
	if err := mapstructure.Decode(raw, &rec); err != nil {
		return "", fmt.Errorf("failed to decode lookup record: %w", err)
	}
	if rec.Download == "" {
		return "", fmt.Errorf("hash %s has no download url: %w", hash, ErrNotFound)
	}

	m.logger.V(1).Info("found avatar", "hash", hash, "name", rec.Name, "url", rec.Download)
	return rec.Download, nil
}

// firstRecord picks the first record of a response that is either a list of
// records or an object of records keyed by id. Object keys are taken in
// ascending id order.
func firstRecord(body any) (any, bool) {
	switch v := body.(type) {
	case []any:
		if len(v) > 0 {
			return v[0], true
		}
	case map[string]any:
		if len(v) == 0 {
			return nil, false
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareIDs)
		return v[keys[0]], true
	}
	return nil, false
}

// compareIDs orders numeric ids by value and everything else as strings.
func compareIDs(a, b string) int {
	x, errA := strconv.Atoi(a)
	y, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(x, y)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
