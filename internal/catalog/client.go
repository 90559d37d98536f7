package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	icebergcatalog "github.com/polarsignals/iceberg-go/catalog"
	icebergrest "github.com/polarsignals/iceberg-go/catalog/rest"
)

// ClientOption configures both NewRESTCatalog and NewBootstrapClient: auth
// is either a static bearer token or AWS SigV4, never both.
type ClientOption func(*clientConfig)

type clientConfig struct {
	bearer string
	signer *sigv4Signer
}

func WithBearerToken(token string) ClientOption {
	return func(c *clientConfig) { c.bearer = token }
}

func WithSigV4(accessKeyID, secretAccessKey, region string) ClientOption {
	return func(c *clientConfig) { c.signer = newSigV4Signer(accessKeyID, secretAccessKey, region) }
}

// signingTransport wraps an http.RoundTripper, attaching either a bearer
// token or an AWS SigV4 signature to every outgoing request before it
// reaches the wire. Both NewRESTCatalog's client and BootstrapClient share
// this so the commit pipeline and the namespace-bootstrap path authenticate
// identically against the same REST catalog.
type signingTransport struct {
	base   http.RoundTripper
	bearer string
	signer *sigv4Signer
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearer)
	}
	if t.signer != nil {
		if err := t.signer.Sign(req.Context(), req); err != nil {
			return nil, fmt.Errorf("catalog: sign request: %w", err)
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func newHTTPClient(opts []ClientOption) *http.Client {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &signingTransport{bearer: cfg.bearer, signer: cfg.signer},
	}
}

// NewRESTCatalog dials an Iceberg REST catalog and returns the
// icebergcatalog.Catalog used for table load/create and snapshot commit
// by the commit pipeline. name is the REST catalog's configured name as advertised by its
// GET /v1/config endpoint; baseURL points at the catalog's root, not
// including the /v1 prefix.
func NewRESTCatalog(ctx context.Context, baseURL, name string, opts ...ClientOption) (icebergcatalog.Catalog, error) {
	httpClient := newHTTPClient(opts)
	ctlg, err := icebergrest.NewCatalog(ctx, name, strings.TrimRight(baseURL, "/"), icebergrest.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("catalog: connect to rest catalog %q: %w", baseURL, err)
	}
	return ctlg, nil
}

// BootstrapClient issues the one namespace-lifecycle call
// icebergcatalog.Catalog doesn't expose directly: creating a namespace
// ahead of the first CreateTable in it. Most REST catalogs treat
// "namespace already exists" as non-fatal, so EnsureNamespace tolerates a
// 409/already-exists response.
type BootstrapClient struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
}

func NewBootstrapClient(baseURL, prefix string, opts ...ClientOption) *BootstrapClient {
	return &BootstrapClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     strings.Trim(prefix, "/"),
		httpClient: newHTTPClient(opts),
	}
}

// EnsureNamespace POSTs .../v1/{prefix}/namespaces, ignoring the response
// status: the subsequent CreateTable call against a genuinely missing
// namespace will surface a clearer error than this best-effort bootstrap
// step would. Request-build and transport errors are returned.
func (b *BootstrapClient) EnsureNamespace(ctx context.Context, namespace string) error {
	path := b.baseURL + "/v1/namespaces"
	if b.prefix != "" {
		path = b.baseURL + "/v1/" + b.prefix + "/namespaces"
	}
	body := strings.NewReader(fmt.Sprintf(`{"namespace":["%s"]}`, namespace))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("catalog: build ensure-namespace request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog: ensure namespace %s: %w", namespace, err)
	}
	resp.Body.Close()
	return nil
}
