package records

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Ratio1/ratio1_records_go/internal/envelope"
	"github.com/Ratio1/ratio1_records_go/internal/httpx"
	"github.com/Ratio1/ratio1_records_go/pkg/model"
)

// RESTFetcher loads records with GET {path}/{encodedID}.
type RESTFetcher struct {
	client *httpx.Client
	path   string
}

// NewRESTFetcher returns a Fetcher for the collection at path.
func NewRESTFetcher(client *httpx.Client, path string) (*RESTFetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("records: http client is required")
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("records: collection path is required")
	}
	return &RESTFetcher{client: client, path: path}, nil
}

// Fetch implements model.Fetcher. A 404, an empty body or a null payload
// mean the record does not exist; other error statuses are returned as
// *httpx.HTTPError.
func (f *RESTFetcher) Fetch(ctx context.Context, m *model.Model) (model.Record, error) {
	resp, err := f.client.Do(ctx, &httpx.Request{
		Method: http.MethodGet,
		Path:   f.path + "/" + url.PathEscape(m.EncodedID()),
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		httpx.DrainAndClose(resp.Body)
		return nil, nil
	}
	if err := httpx.CheckResponse(resp); err != nil {
		return nil, err
	}
	body, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("records: read %s: %w", f.path, err)
	}
	payload, err := envelope.Unwrap(body)
	if err != nil {
		return nil, fmt.Errorf("records: unwrap %s: %w", f.path, err)
	}
	if envelope.IsNull(payload) {
		return nil, nil
	}
	var record model.Record
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("records: decode %s record: %w", f.path, err)
	}
	return record, nil
}
