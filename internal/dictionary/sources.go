package dictionary

import "github.com/averlon/posledger/internal/ledger"

// SourceDef is a presentation-layer label for an entry source. The ledger core
// never formats operator-facing text; the UI reads this table instead.
type SourceDef struct {
	Source ledger.Source `json:"source"`
	Label  string        `json:"label"`
}

var sourceLabels = map[ledger.Source]string{
	ledger.SourceSale:             "Sale payment",
	ledger.SourceSaleRefund:       "Sale refund",
	ledger.SourcePurchasePayment:  "Purchase payment",
	ledger.SourcePurchaseRefund:   "Purchase refund",
	ledger.SourceExpense:          "Expense",
	ledger.SourceOpeningAddition:  "Opening balance addition",
	ledger.SourceOpeningDeduction: "Opening balance deduction",
	ledger.SourceManualAdd:        "Manual addition",
}

// Label returns the display label for a source, falling back to the raw value.
func Label(s ledger.Source) string {
	if l, ok := sourceLabels[s]; ok {
		return l
	}
	return string(s)
}

// All returns every source with its label in the enumeration's stable order.
func All() []SourceDef {
	out := make([]SourceDef, 0, len(sourceLabels))
	for _, s := range ledger.Sources() {
		out = append(out, SourceDef{Source: s, Label: Label(s)})
	}
	return out
}
