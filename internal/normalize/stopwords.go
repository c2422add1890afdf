package normalize

// spanishStopwords are dropped from the similarity token set only,
// never from the display name: articles, prepositions, and generic
// business words that carry no discriminative signal across vendors.
var spanishStopwords = map[string]struct{}{
	// Articles and prepositions.
	"DE": {}, "DEL": {}, "LA": {}, "LAS": {}, "EL": {}, "LOS": {},
	"Y": {}, "E": {}, "EN": {}, "PARA": {}, "POR": {}, "CON": {},
	"A": {}, "AL": {}, "UN": {}, "UNA": {},
	// Generic business words.
	"SOCIEDAD": {}, "COMPANIA": {}, "CIA": {}, "EMPRESA": {},
	"GRUPO": {}, "CORPORATIVO": {}, "CORPORACION": {},
	"SERVICIOS": {}, "SERVICIO": {}, "COMERCIALIZADORA": {},
	"DISTRIBUIDORA": {}, "PROVEEDORA": {}, "OPERADORA": {},
	"NACIONAL": {}, "INTERNACIONAL": {}, "MEXICANA": {}, "MEXICANO": {},
	"MEXICO": {}, "GENERAL": {}, "INDUSTRIAL": {}, "INDUSTRIAS": {},
}

// corporateKeywords mark a name as a company even without a legal
// suffix. Broader than the stopword list: these include words that
// are discriminative between companies but impossible in a personal
// name.
var corporateKeywords = map[string]struct{}{
	"SOCIEDAD": {}, "COMPANIA": {}, "CIA": {}, "EMPRESA": {},
	"GRUPO": {}, "CORPORATIVO": {}, "CORPORACION": {},
	"SERVICIOS": {}, "SERVICIO": {}, "COMERCIALIZADORA": {},
	"DISTRIBUIDORA": {}, "PROVEEDORA": {}, "OPERADORA": {},
	"CONSTRUCTORA": {}, "CONSTRUCCIONES": {}, "INMOBILIARIA": {},
	"CONSULTORES": {}, "CONSULTORIA": {}, "ASOCIADOS": {},
	"INGENIERIA": {}, "FARMACEUTICA": {}, "LABORATORIOS": {},
	"TRANSPORTES": {}, "EDITORIAL": {}, "INDUSTRIAL": {},
	"INDUSTRIAS": {}, "SISTEMAS": {}, "TECNOLOGIA": {},
	"SUMINISTROS": {}, "ABASTECEDORA": {}, "UNIVERSIDAD": {},
	"INSTITUTO": {}, "HOSPITAL": {},
}

// IsStopword reports whether the token is excluded from the
// similarity token set.
func IsStopword(token string) bool {
	_, ok := spanishStopwords[token]
	return ok
}

// IsCorporateKeyword reports whether the token rules out a personal
// name.
func IsCorporateKeyword(token string) bool {
	_, ok := corporateKeywords[token]
	return ok
}
