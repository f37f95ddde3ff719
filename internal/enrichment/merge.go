package enrichment

import "github.com/smallbiznis/billingops/internal/invoice/domain"

var (
	ownerNameKeys     = []string{"name", "nome", "razao_social"}
	ownerDocumentKeys = []string{"document", "cpf_cnpj", "cnpj", "cpf"}
)

// mergeRow applies the fallback chain for every enrichment key:
// primary value, then the primary owner object, then the legacy value.
// Null and blank strings fall through to the next source.
func mergeRow(primary, legacy domain.Record) domain.Record {
	out := primary.Clone()
	owner := primary.Owner()

	out["owner_id"] = domain.First(primary.Value("owner_id"), owner.Value("id"), legacy.Value("owner_id"))
	out["owner_name"] = domain.First(primary.Value("owner_name"), owner.FirstKey(ownerNameKeys...), legacy.Value("owner_name"))
	out["owner_document"] = domain.First(primary.Value("owner_document"), owner.FirstKey(ownerDocumentKeys...), legacy.Value("owner_document"))
	out["cte_id"] = domain.First(primary.Value("cte_id"), legacy.Value("cte_id"))
	out["serie"] = domain.First(primary.Value("serie"), legacy.Value("serie"))
	out["number"] = domain.First(primary.Value("number"), legacy.Value("number"))
	return out
}

func ensureKeys(row domain.Record) {
	for _, key := range domain.EnrichmentKeys {
		if _, ok := row[key]; !ok {
			row[key] = nil
		}
	}
}
