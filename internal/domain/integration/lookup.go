package integration

import (
	"fmt"
	"strings"

	"github.com/erp/datasync/internal/domain/mapping"
	"github.com/erp/datasync/internal/domain/shared"
)

// LookupTarget is an entity set that relations can point at
type LookupTarget string

const (
	LookupRepresentatives LookupTarget = "representatives"
	LookupCustomers       LookupTarget = "customers"
	LookupCustomerGroups  LookupTarget = "customer_groups"
	LookupProducts        LookupTarget = "products"
)

// Lookup fields
const (
	LookupFieldExternalID = "external_id"
	LookupFieldCode       = "code"
	LookupFieldDocument   = "document"
	LookupFieldTaxID      = "tax_id"
	LookupFieldName       = "name"
	LookupFieldCategory   = "category"
	LookupFieldSKU        = "sku"
	LookupFieldBarcode    = "barcode"
)

var allowedLookupFields = map[LookupTarget][]string{
	LookupRepresentatives: {LookupFieldExternalID, LookupFieldCode, LookupFieldDocument, LookupFieldName},
	LookupCustomers:       {LookupFieldExternalID, LookupFieldTaxID, LookupFieldCode, LookupFieldName},
	LookupCustomerGroups:  {LookupFieldExternalID, LookupFieldCode, LookupFieldName, LookupFieldCategory},
	LookupProducts:        {LookupFieldExternalID, LookupFieldSKU, LookupFieldBarcode, LookupFieldName},
}

// AllowedLookupFields returns the fields target can be looked up by
func AllowedLookupFields(target LookupTarget) []string {
	return allowedLookupFields[target]
}

// ValidateLookupField checks that field is a supported lookup for target.
// relation names the mapping entry for the error message.
func ValidateLookupField(relation string, target LookupTarget, field string) error {
	for _, f := range allowedLookupFields[target] {
		if f == field {
			return nil
		}
	}
	return shared.NewConfigurationError("lookups."+relation,
		fmt.Sprintf("%s cannot be looked up by %q (allowed: %s)",
			target, field, strings.Join(allowedLookupFields[target], ", ")))
}

// NormalizeLookupKey converts a raw reference into the comparison form used
// for field. Both the engine (for source values) and the store (for stored
// values) normalize through this function so keys compare equal.
//
//   - code: leading zeros are ignored ("007" matches "7")
//   - document, tax_id: digits only
//   - name: accent-folded, case-insensitive
//   - everything else: trimmed text
func NormalizeLookupKey(field string, raw any) (string, bool) {
	s, ok := mapping.AsString(raw)
	if !ok {
		return "", false
	}
	var key string
	switch field {
	case LookupFieldCode:
		key = shared.TrimLeadingZeros(s)
	case LookupFieldDocument, LookupFieldTaxID:
		key = shared.DigitsOnly(s)
	case LookupFieldName:
		key = shared.NameKey(s)
	default:
		key = strings.TrimSpace(s)
	}
	return key, key != ""
}
