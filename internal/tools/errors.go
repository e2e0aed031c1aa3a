package tools

// Machine-readable error codes carried in tool results. The model is
// instructed to branch on these rather than parse prose.
const (
	ErrCodeEmptyQuery             = "empty_query"
	ErrCodeNotFound               = "not_found"
	ErrCodeAmbiguous              = "ambiguous"
	ErrCodeMissingMedicationID    = "missing_medication_id"
	ErrCodeUnknownStoreOrNoRecord = "unknown_store_or_no_record"
	ErrCodeInvalidPhone           = "invalid_phone"
	ErrCodeMissingRequiredFields  = "missing_required_fields"
	ErrCodeUnknownUser            = "unknown_user"
	ErrCodeUnknownMedication      = "unknown_medication"
	ErrCodeAuthenticationRequired = "authentication_required"
	ErrCodeStoreOrItemNotFound    = "store_or_item_not_found"
	ErrCodeInsufficientStock      = "insufficient_stock"
	ErrCodeUnknownTool            = "unknown_tool"
	ErrCodeInvalidArguments       = "invalid_arguments"
)
