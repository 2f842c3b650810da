package model

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
)

// Specialty is one parsed specialty entry for a doctor.
type Specialty struct {
	Name          string  `json:"name"`
	SpecialtyCode string  `json:"specialty_code"`
	RQE           *string `json:"rqe"`
}

// Doctor is the normalized storage record for one registry entry,
// uniquely identified by (CRM, State).
type Doctor struct {
	CRM                   int             `json:"crm"`
	RawCRM                string          `json:"raw_crm"`
	CRMNatural            string          `json:"crm_natural,omitempty"`
	State                 string          `json:"state"`
	Name                  string          `json:"name"`
	SocialName            string          `json:"social_name,omitempty"`
	Status                string          `json:"status,omitempty"`
	Specialties           []Specialty     `json:"specialties"`
	RegistrationType      string          `json:"registration_type,omitempty"`
	RegistrationDate      string          `json:"registration_date,omitempty"` // DD/MM/YYYY as reported
	GraduationInstitution string          `json:"graduation_institution,omitempty"`
	GraduationDate        string          `json:"graduation_date,omitempty"`
	IsForeign             bool            `json:"is_foreign"`
	SecurityHash          string          `json:"security_hash,omitempty"`
	InterdictionObs       string          `json:"interdicao_obs,omitempty"`
	Phone                 string          `json:"phone,omitempty"`
	Address               string          `json:"address,omitempty"`
	PhotoURL              string          `json:"photo_url,omitempty"`
	RawData               json.RawMessage `json:"raw_data,omitempty"`
}

var nonDigits = regexp.MustCompile(`\D`)

// CleanCRM extracts the numeric portion of a raw CRM value such as
// "EMFE-95660" or "31840". Fails when the value carries no digits.
func CleanCRM(raw string) (int, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return 0, eris.Errorf("model: CRM without digits: %q", raw)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, eris.Wrapf(err, "model: parse CRM %q", raw)
	}
	return n, nil
}
