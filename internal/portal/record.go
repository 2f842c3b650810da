package portal

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/medreg/registry-cli/internal/model"
	"github.com/medreg/registry-cli/internal/normalize"
)

// foreignRegistrationType is the registration type label the API uses for
// doctors who graduated abroad.
const foreignRegistrationType = "Estudante Medico Formado no Exterior"

// Record is one raw entry from the search endpoint. Field names follow the
// API's uppercase keys; Raw preserves the original JSON for storage.
type Record struct {
	Count                 string `json:"COUNT"`
	State                 string `json:"SG_UF"`
	CRM                   string `json:"NU_CRM"`
	CRMNatural            string `json:"NU_CRM_NATURAL"`
	Name                  string `json:"NM_MEDICO"`
	SocialName            string `json:"NM_SOCIAL"`
	StatusCode            string `json:"COD_SITUACAO"`
	Status                string `json:"SITUACAO"`
	RegistrationType      string `json:"TIPO_INSCRICAO"`
	RegistrationDate      string `json:"DT_INSCRICAO"`
	Specialty             string `json:"ESPECIALIDADE"`
	GraduationInstitution string `json:"NM_INSTITUICAO_GRADUACAO"`
	ForeignInstitution    string `json:"NM_FACULDADE_ESTRANGEIRA_GRADUACAO"`
	GraduationDate        string `json:"DT_GRADUACAO"`
	InterdictionObs       string `json:"OBS_INTERDICAO"`
	SecurityHash          string `json:"SECURITYHASH"`

	Raw json.RawMessage `json:"-"`
}

// ToDoctor normalizes a raw record into the storage model. A record whose
// CRM has no digits yields CRM 0; the store skips those.
func (r Record) ToDoctor() model.Doctor {
	crm, err := model.CleanCRM(r.CRM)
	if err != nil {
		zap.L().Warn("record without numeric CRM",
			zap.String("raw_crm", r.CRM),
			zap.String("state", r.State))
	}

	status := r.Status
	if status == "" {
		status = r.StatusCode
	}
	institution := r.GraduationInstitution
	if institution == "" {
		institution = r.ForeignInstitution
	}

	return model.Doctor{
		CRM:                   crm,
		RawCRM:                r.CRM,
		CRMNatural:            r.CRMNatural,
		State:                 r.State,
		Name:                  normalize.TitleCase(r.Name),
		SocialName:            normalize.TitleCase(r.SocialName),
		Status:                status,
		Specialties:           normalize.ParseSpecialties(r.Specialty),
		RegistrationType:      r.RegistrationType,
		RegistrationDate:      r.RegistrationDate,
		GraduationInstitution: normalize.TitleCase(institution),
		GraduationDate:        r.GraduationDate,
		IsForeign:             r.RegistrationType == foreignRegistrationType,
		SecurityHash:          r.SecurityHash,
		InterdictionObs:       r.InterdictionObs,
		RawData:               r.Raw,
	}
}

// ToDoctors maps a page of records, keeping order.
func ToDoctors(records []Record) []model.Doctor {
	out := make([]model.Doctor, len(records))
	for i, r := range records {
		out[i] = r.ToDoctor()
	}
	return out
}
