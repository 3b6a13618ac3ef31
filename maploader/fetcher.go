package maploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// APIError is a non-2xx response from the clustering service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cluster service error %d: %s", e.StatusCode, e.Body)
}

// LayerOutcome is the result of one layer's fetch within a batch. Stale
// outcomes belong to a superseded generation (or were aborted) and must
// never be rendered.
type LayerOutcome struct {
	Generation uint64
	Layer      LayerDescriptor
	Result     *LayerResult
	Err        error
	Stale      bool
}

// ClusterFetcher issues one clustering request per active layer for a
// settled viewport. Each batch carries a monotonic generation id; starting
// a new batch aborts the previous one so responses that can no longer be
// rendered stop consuming bandwidth.
type ClusterFetcher struct {
	baseURL string
	client  *http.Client

	gen atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewClusterFetcher points at a clustering service base URL. A nil client
// falls back to http.DefaultClient; there is no request timeout because a
// hung request is superseded (and aborted) by the next viewport settle.
func NewClusterFetcher(baseURL string, client *http.Client) *ClusterFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &ClusterFetcher{baseURL: baseURL, client: client}
}

// CurrentGeneration returns the id of the most recently issued batch.
func (f *ClusterFetcher) CurrentGeneration() uint64 {
	return f.gen.Load()
}

// Invalidate aborts any in-flight batch and bumps the generation so its
// responses can never be applied. Used on teardown and layer-set swaps.
func (f *ClusterFetcher) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen.Add(1)
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

// Begin cancels the previous batch, bumps the generation, and issues one
// request per layer concurrently. Outcomes arrive on the returned channel
// as each layer completes; the channel closes after all layers report. A
// layer failure is isolated to its own outcome and never aborts siblings.
func (f *ClusterFetcher) Begin(vp Viewport, layers []LayerDescriptor) (uint64, <-chan LayerOutcome) {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	gen := f.gen.Add(1)
	f.mu.Unlock()

	out := make(chan LayerOutcome, len(layers))
	var wg sync.WaitGroup
	for _, layer := range layers {
		wg.Add(1)
		go func(ld LayerDescriptor) {
			defer wg.Done()

			res, err := f.fetchLayer(ctx, vp, ld)
			oc := LayerOutcome{Generation: gen, Layer: ld, Result: res, Err: err}
			if f.gen.Load() != gen || errors.Is(err, context.Canceled) {
				// Superseded while in flight. Not an error.
				oc.Stale = true
				oc.Result = nil
			}
			out <- oc
		}(layer)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return gen, out
}

func (f *ClusterFetcher) fetchLayer(ctx context.Context, vp Viewport, layer LayerDescriptor) (*LayerResult, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, err
	}
	joined, err := url.JoinPath(u.Path, "/api/clusters")
	if err != nil {
		return nil, err
	}
	u.Path = joined

	params := url.Values{}
	params.Set("layer", layer.ID)
	params.Set("west", strconv.FormatFloat(vp.Bounds.West, 'f', -1, 64))
	params.Set("south", strconv.FormatFloat(vp.Bounds.South, 'f', -1, 64))
	params.Set("east", strconv.FormatFloat(vp.Bounds.East, 'f', -1, 64))
	params.Set("north", strconv.FormatFloat(vp.Bounds.North, 'f', -1, 64))
	params.Set("zoom", strconv.Itoa(vp.Zoom))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "zstd")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "zstd" {
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		reader = dec
	}

	var result LayerResult
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode layer %s: %w", layer.ID, err)
	}
	if err := validateResult(&result); err != nil {
		return nil, fmt.Errorf("layer %s: %w", layer.ID, err)
	}
	return &result, nil
}

// validateResult rejects responses missing required fields. A malformed
// layer is treated like a transient failure: skipped, never fatal.
func validateResult(res *LayerResult) error {
	for i, item := range res.Items {
		switch item.Type {
		case ItemCluster:
			if item.Count < 1 {
				return fmt.Errorf("item %d: cluster without count", i)
			}
		case ItemFeature:
			// ok
		default:
			return fmt.Errorf("item %d: unknown type %q", i, item.Type)
		}
	}
	return nil
}
