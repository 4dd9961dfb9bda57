package shared

// Stock ledger permissions.
const (
	PermProductsView = "products.view"
	PermProductsEdit = "products.edit"

	PermInventoryView = "inventory.view"
	PermInventoryEdit = "inventory.edit"

	PermProcurementView = "procurement.view"
	PermProcurementEdit = "procurement.edit"

	PermUrgencyView = "urgency.view"
)

// LedgerScopes lists every permission known to the service.
func LedgerScopes() []string {
	return []string{
		PermProductsView,
		PermProductsEdit,
		PermInventoryView,
		PermInventoryEdit,
		PermProcurementView,
		PermProcurementEdit,
		PermUrgencyView,
	}
}
