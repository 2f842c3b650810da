package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreg/registry-cli/internal/config"
	"github.com/medreg/registry-cli/internal/resilience"
)

func testClient(url string) *Client {
	return NewClient(config.PortalConfig{
		BaseURL:        url,
		UserAgent:      "test-agent",
		RequestTimeout: 5,
		RatePerSecond:  1000,
		RateBurst:      1000,
	})
}

func searchBody(records ...map[string]any) string {
	b, _ := json.Marshal(map[string]any{"status": "sucesso", "dados": records})
	return string(b)
}

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, searchPath, r.URL.Path)

		var payload []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload, 1)
		assert.Equal(t, "tok-1", payload[0]["captcha"])
		assert.Equal(t, float64(3), payload[0]["pageNumber"])
		medico := payload[0]["medico"].(map[string]any)
		assert.Equal(t, "SP", medico["ufMedico"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody(
			map[string]any{"COUNT": "4910", "SG_UF": "SP", "NU_CRM": "31840", "NM_MEDICO": "MARIA DA SILVA", "COD_SITUACAO": "A"},
			map[string]any{"COUNT": "4910", "SG_UF": "SP", "NU_CRM": "31841", "NM_MEDICO": "JOSE DOS SANTOS", "COD_SITUACAO": "A"},
		)))
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).FetchPage(context.Background(), PageRequest{
		Token: "tok-1", Region: "SP", Page: 3, PageSize: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Page)
	assert.Equal(t, 4910, res.Total)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "31840", res.Records[0].CRM)
	assert.NotEmpty(t, res.Records[0].Raw)
}

func TestFetchPageCRMFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		medico := payload[0]["medico"].(map[string]any)
		assert.Equal(t, "31840", medico["crmMedico"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody(
			map[string]any{"COUNT": "1", "SG_UF": "SP", "NU_CRM": "31840", "NM_MEDICO": "MARIA DA SILVA", "COD_SITUACAO": "A"},
		)))
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).FetchPage(context.Background(), PageRequest{
		Token: "tok-1", Region: "SP", CRM: "31840", Page: 1, PageSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "31840", res.Records[0].CRM)
}

func TestFetchPageEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody()))
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).FetchPage(context.Background(), PageRequest{
		Token: "tok-1", Region: "AC", Page: 1, PageSize: 200,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Zero(t, res.Total)
}

func TestFetchPageAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"erro","dados":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchPage(context.Background(), PageRequest{
		Token: "bad", Region: "SP", Page: 1, PageSize: 200,
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, `api status "erro"`)
	assert.False(t, resilience.IsTransient(err))
}

func TestFetchPageServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchPage(context.Background(), PageRequest{
		Token: "tok-1", Region: "SP", Page: 1, PageSize: 200,
	})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestCountRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, float64(1), payload[0]["pageSize"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchBody(
			map[string]any{"COUNT": "155023", "SG_UF": "SP", "NU_CRM": "1", "NM_MEDICO": "X", "COD_SITUACAO": "A"},
		)))
	}))
	defer srv.Close()

	n, err := testClient(srv.URL).CountRegion(context.Background(), "tok-1", "SP")
	require.NoError(t, err)
	assert.Equal(t, 155023, n)
}

func TestFetchMunicipalities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, municipalitiesPath+"/SP", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"dados":[
			{"ID_MUNICIPIO":"3550308","DS_MUNICIPIO":"SAO PAULO"},
			{"ID_MUNICIPIO":"","DS_MUNICIPIO":"INVALIDO"},
			{"ID_MUNICIPIO":"3509502","DS_MUNICIPIO":"CAMPINAS"}
		]}`))
	}))
	defer srv.Close()

	ms, err := testClient(srv.URL).FetchMunicipalities(context.Background(), "SP")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, Municipality{ID: "3550308", Name: "SAO PAULO"}, ms[0])
}
