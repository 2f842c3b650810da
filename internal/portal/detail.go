package portal

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/resilience"
)

const (
	detailPath = "/api_rest_php/api/v2/medicos/buscar_foto/"
	photoPath  = "/wp-content/themes/portalcfm/assets/php/foto_medico.php"
)

// Detail is one doctor's contact/photo entry from the detail endpoint.
// Address and photo each sit behind their own consent flag ("S" grants).
type Detail struct {
	CRM               string `json:"CRM"`
	State             string `json:"UF_CRM"`
	Phone             string `json:"TELEFONE"`
	Address           string `json:"ENDERECO"`
	ImageAuthorized   string `json:"AUTORIZACAO_IMAGEM"`
	AddressAuthorized string `json:"AUTORIZACAO_ENDERECO"`
	PhotoHash         string `json:"HASH"`
}

type detailResponse struct {
	Status string   `json:"status"`
	Data   []Detail `json:"dados"`
}

// FetchDetail asks the detail endpoint for one doctor's phone, address and
// photo hash, keyed by the security hash a search result carries. A
// non-success status or an empty payload returns (nil, nil): the detail is
// a best-effort enrichment, not part of the record proper.
func (c *Client) FetchDetail(ctx context.Context, crm, region, securityHash string) (*Detail, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "portal: rate limit wait")
	}

	payload := []map[string]any{{
		"securityHash": securityHash,
		"crm":          crm,
		"uf":           region,
	}}

	var body detailResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&body).
		Post(detailPath)
	if err != nil {
		return nil, resilience.NewTransientError(
			eris.Wrapf(err, "portal: fetch detail for %s/%s", crm, region), 0)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode()) {
		return nil, resilience.NewTransientError(
			eris.Errorf("portal: fetch detail for %s/%s: status %d", crm, region, resp.StatusCode()),
			resp.StatusCode())
	}
	if resp.IsError() {
		return nil, eris.Errorf("portal: fetch detail for %s/%s: status %d", crm, region, resp.StatusCode())
	}
	if body.Status != "sucesso" || len(body.Data) == 0 {
		c.log.Debug("no detail for doctor",
			zap.String("crm", crm),
			zap.String("region", region))
		return nil, nil
	}
	return &body.Data[0], nil
}

// ApplyDetail copies the consented detail fields onto the doctor. The
// photo URL embeds the portal host, so this lives on the client.
func (c *Client) ApplyDetail(d *model.Doctor, det *Detail) {
	if det == nil {
		return
	}
	d.Phone = det.Phone
	if det.AddressAuthorized == "S" {
		d.Address = det.Address
	}
	if det.ImageAuthorized == "S" && det.PhotoHash != "" {
		d.PhotoURL = fmt.Sprintf("%s%s?crm=%s&uf=%s&hash=%s",
			c.baseURL, photoPath, det.CRM, det.State, det.PhotoHash)
	}
}
