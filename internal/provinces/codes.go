package provinces

// Italian province codes, including the suppressed Sardinian provinces that
// still appear in older CRM addresses.
var codes = []string{
	"AG", "AL", "AN", "AO", "AP", "AQ", "AR", "AT", "AV", "BA",
	"BG", "BI", "BL", "BN", "BO", "BR", "BS", "BT", "BZ", "CA",
	"CB", "CE", "CH", "CI", "CL", "CN", "CO", "CR", "CS", "CT",
	"CZ", "EN", "FC", "FE", "FG", "FI", "FM", "FR", "GE", "GO",
	"GR", "IM", "IS", "KR", "LC", "LE", "LI", "LO", "LT", "LU",
	"MB", "MC", "ME", "MI", "MN", "MO", "MS", "MT", "NA", "NO",
	"NU", "OG", "OR", "OT", "PA", "PC", "PD", "PE", "PG", "PI",
	"PN", "PO", "PR", "PT", "PU", "PV", "PZ", "RA", "RC", "RE",
	"RG", "RI", "RM", "RN", "RO", "SA", "SI", "SO", "SP", "SR",
	"SS", "SU", "SV", "TA", "TE", "TN", "TO", "TP", "TR", "TS",
	"TV", "UD", "VA", "VB", "VC", "VE", "VI", "VR", "VS", "VT",
}

var codeSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}()

// IsValidCode reports whether s is a known 2-letter province code.
func IsValidCode(s string) bool {
	_, ok := codeSet[s]
	return ok
}
