package normalize

import (
	"regexp"
	"strings"

	"github.com/medreg/registry-cli/internal/model"
)

var (
	rqePattern    = regexp.MustCompile(`(?i)RQE\s*N[ºo°]?\s*:?\s*(\d+)`)
	rqeStrip      = regexp.MustCompile(`(?i)\s*-?\s*RQE\s*N[ºo°]?\s*:?\s*\d+`)
	parenthetical = regexp.MustCompile(`\s*\(.*?\)\s*`)
)

// ParseSpecialties parses the registry's packed specialty string into a
// typed list. Input looks like:
//
//	"&CARDIOLOGIA - RQE Nº: 12345&PEDIATRIA - RQE Nº: 67890"
//	"&CIRURGIA GERAL - RQE Nº: 123 (Cirurgia do Trauma)"
func ParseSpecialties(raw string) []model.Specialty {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var specialties []model.Specialty
	for _, part := range strings.Split(raw, "&") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		var rqe *string
		if m := rqePattern.FindStringSubmatch(part); m != nil {
			v := m[1]
			rqe = &v
		}

		// Drop the RQE suffix and the acting-area parenthetical from the name.
		name := rqeStrip.ReplaceAllString(part, "")
		name = parenthetical.ReplaceAllString(name, "")
		name = strings.Trim(name, " -")
		name = strings.Trim(name, "() ")

		if name == "" {
			continue
		}
		specialties = append(specialties, model.Specialty{
			Name:          TitleCase(name),
			SpecialtyCode: strings.ToUpper(strings.TrimSpace(name)),
			RQE:           rqe,
		})
	}
	return specialties
}
