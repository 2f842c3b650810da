package model

// AllRegions lists every federative-unit code the portal accepts, in
// crawl order.
var AllRegions = []string{
	"AC", "AL", "AM", "AP", "BA", "CE", "DF", "ES", "GO",
	"MA", "MG", "MS", "MT", "PA", "PB", "PE", "PI", "PR",
	"RJ", "RN", "RO", "RR", "RS", "SC", "SE", "SP", "TO",
}

// ValidRegion reports whether code is a known federative-unit code.
func ValidRegion(code string) bool {
	for _, r := range AllRegions {
		if r == code {
			return true
		}
	}
	return false
}
