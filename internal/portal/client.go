// Package portal talks to the public registry search API.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/medreg/registry-cli/internal/config"
	"github.com/medreg/registry-cli/internal/resilience"
)

const (
	searchPath         = "/api_rest_php/api/v2/medicos/buscar_medicos"
	municipalitiesPath = "/api_rest_php/api/v2/medicos/listar_municipios"
	refererPath        = "/busca-medicos"
)

// PageRequest identifies one page of search results to fetch.
type PageRequest struct {
	Token            string
	Region           string
	CRM              string
	Municipality     string
	RegistrationType string
	Situation        string
	Page             int
	PageSize         int
}

// PageResult is one fetched page plus the total record count the API
// reports for the whole query.
type PageResult struct {
	Page    int
	Records []Record
	Total   int
}

// Municipality is one entry from the municipality listing endpoint.
type Municipality struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type searchResponse struct {
	Status string            `json:"status"`
	Data   []json.RawMessage `json:"dados"`
}

type municipalitiesResponse struct {
	Data []struct {
		ID   string `json:"ID_MUNICIPIO"`
		Name string `json:"DS_MUNICIPIO"`
	} `json:"dados"`
}

// Client is a rate-limited HTTP client for the registry portal.
type Client struct {
	http    *resty.Client
	baseURL string
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient builds a Client from portal configuration. The rate limiter is
// shared across all callers, so concurrent batch workers collectively stay
// under the configured ceiling.
func NewClient(cfg config.PortalConfig) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout())
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Origin", cfg.BaseURL)
	client.SetHeader("Referer", cfg.BaseURL+refererPath)

	return &Client{
		http:    client,
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		log:     zap.L().With(zap.String("component", "portal")),
	}
}

// buildSearchPayload mirrors the browser request: an array with a single
// search object.
func buildSearchPayload(req PageRequest) []map[string]any {
	return []map[string]any{{
		"useCaptchav2": true,
		"captcha":      req.Token,
		"medico": map[string]any{
			"nome":                  "",
			"ufMedico":              req.Region,
			"crmMedico":             req.CRM,
			"municipioMedico":       req.Municipality,
			"tipoInscricaoMedico":   req.RegistrationType,
			"situacaoMedico":        req.Situation,
			"detalheSituacaoMedico": "",
			"especialidadeMedico":   "",
			"areaAtuacaoMedico":     "",
		},
		"page":       req.Page,
		"pageNumber": req.Page,
		"pageSize":   req.PageSize,
	}}
}

// FetchPage fetches one page of doctors. Timeouts and 5xx-class responses
// come back as transient errors so the retry layer can distinguish them
// from hard failures such as a rejected captcha token.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*PageResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "portal: rate limit wait")
	}

	var body searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(buildSearchPayload(req)).
		SetResult(&body).
		Post(searchPath)
	if err != nil {
		return nil, resilience.NewTransientError(
			eris.Wrapf(err, "portal: fetch page %d of %s", req.Page, req.Region), 0)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode()) {
		return nil, resilience.NewTransientError(
			eris.Errorf("portal: fetch page %d of %s: status %d", req.Page, req.Region, resp.StatusCode()),
			resp.StatusCode())
	}
	if resp.IsError() {
		return nil, eris.Errorf("portal: fetch page %d of %s: status %d", req.Page, req.Region, resp.StatusCode())
	}
	if body.Status != "sucesso" {
		return nil, eris.Errorf("portal: fetch page %d of %s: api status %q", req.Page, req.Region, body.Status)
	}

	result := &PageResult{Page: req.Page}
	for i, raw := range body.Data {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, eris.Wrapf(err, "portal: decode record %d on page %d of %s", i, req.Page, req.Region)
		}
		rec.Raw = raw
		result.Records = append(result.Records, rec)
	}
	if len(result.Records) > 0 {
		total, err := strconv.Atoi(result.Records[0].Count)
		if err != nil {
			return nil, eris.Wrapf(err, "portal: parse total count %q", result.Records[0].Count)
		}
		result.Total = total
	}

	c.log.Debug("fetched page",
		zap.String("region", req.Region),
		zap.Int("page", req.Page),
		zap.Int("records", len(result.Records)),
		zap.Int("total", result.Total))
	return result, nil
}

// CountRegion asks for a single record just to read the query's COUNT.
// Returns 0 for a region with no records.
func (c *Client) CountRegion(ctx context.Context, token, region string) (int, error) {
	res, err := c.FetchPage(ctx, PageRequest{
		Token:    token,
		Region:   region,
		Page:     1,
		PageSize: 1,
	})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// FetchMunicipalities lists the municipalities of a region, used to offer
// municipality filter values.
func (c *Client) FetchMunicipalities(ctx context.Context, region string) ([]Municipality, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "portal: rate limit wait")
	}

	var body municipalitiesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(fmt.Sprintf("%s/%s", municipalitiesPath, region))
	if err != nil {
		return nil, eris.Wrapf(err, "portal: fetch municipalities of %s", region)
	}
	if resp.IsError() {
		return nil, eris.Errorf("portal: fetch municipalities of %s: status %d", region, resp.StatusCode())
	}

	out := make([]Municipality, 0, len(body.Data))
	for _, m := range body.Data {
		if m.ID == "" || m.Name == "" {
			continue
		}
		out = append(out, Municipality{ID: m.ID, Name: m.Name})
	}
	return out, nil
}
