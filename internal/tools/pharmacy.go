package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/farmalink/rxagent/internal/events"
	"github.com/farmalink/rxagent/internal/store"
)

// Brand-name aliases for common local names.
var brandAliases = map[string]string{
	"dexamol": "paracetamol",
	"דקסמול":  "פרצטמול",
}

const likeLimit = 10

func inventoryStatus(qty int) string {
	switch {
	case qty <= 0:
		return "out"
	case qty < 5:
		return "low"
	default:
		return "in_stock"
	}
}

func medicationLabel(m store.Medication) string {
	return m.Name + " " + m.Strength
}

func medicationDict(m store.Medication) map[string]any {
	var ingredients []any
	if err := json.Unmarshal([]byte(m.ActiveIngredients), &ingredients); err != nil {
		ingredients = []any{}
	}
	return map[string]any{
		"id":                 m.ID,
		"name":               m.Name,
		"name_he":            m.NameHE,
		"active_ingredients": ingredients,
		"form":               m.Form,
		"strength":           m.Strength,
		"manufacturer":       m.Manufacturer,
		"otc_or_rx":          m.OTCOrRx,
		"label_instructions": m.LabelInstructions,
		"warnings":           m.Warnings,
	}
}

func (r *Registry) handleGetMedicationByName(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return map[string]any{"found": false, "medication": nil, "alternatives": []string{}, "error": ErrCodeEmptyQuery}, nil
	}

	qn := store.NormalizeName(query)
	if alias, ok := brandAliases[qn]; ok {
		qn = alias
	}

	exact, err := r.store.MedicationsByExactName(ctx, qn)
	if err != nil {
		return nil, err
	}
	if len(exact) == 1 {
		return map[string]any{"found": true, "medication": medicationDict(exact[0]), "alternatives": []string{}}, nil
	}

	matches, err := r.store.MedicationsByNameLike(ctx, qn, likeLimit)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return map[string]any{"found": false, "medication": nil, "alternatives": []string{}, "error": ErrCodeNotFound}, nil
	case 1:
		return map[string]any{"found": true, "medication": medicationDict(matches[0]), "alternatives": []string{}}, nil
	default:
		// Labels carry the strength so two strengths of the same name
		// stay distinguishable in the alternatives list.
		alternatives := make([]string, len(matches))
		for i, m := range matches {
			alternatives[i] = medicationLabel(m)
		}
		return map[string]any{"found": false, "medication": nil, "alternatives": alternatives, "error": ErrCodeAmbiguous}, nil
	}
}

func (r *Registry) handleCheckInventory(ctx context.Context, args map[string]any) (map[string]any, error) {
	medicationID, _ := args["medication_id"].(string)
	medicationID = strings.TrimSpace(medicationID)
	if medicationID == "" {
		return map[string]any{"results": []any{}, "error": ErrCodeMissingMedicationID}, nil
	}

	storeName, _ := args["store_name"].(string)
	storeName = store.NormalizeName(storeName)

	items, err := r.store.Inventory(ctx, medicationID, storeName)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 && storeName != "" {
		return map[string]any{"results": []any{}, "error": ErrCodeUnknownStoreOrNoRecord}, nil
	}

	results := make([]any, len(items))
	for i, it := range items {
		results[i] = map[string]any{
			"store_name": it.StoreName,
			"quantity":   it.Quantity,
			"status":     inventoryStatus(it.Quantity),
		}
	}
	return map[string]any{"results": results}, nil
}

func (r *Registry) handleCheckPrescriptionRequirement(ctx context.Context, args map[string]any) (map[string]any, error) {
	medicationID, _ := args["medication_id"].(string)
	medicationID = strings.TrimSpace(medicationID)
	if medicationID == "" {
		return map[string]any{"requires_prescription": nil, "notes": "", "error": ErrCodeMissingMedicationID}, nil
	}

	med, err := r.store.MedicationByID(ctx, medicationID)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{"requires_prescription": nil, "notes": "", "error": ErrCodeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	requires := med.OTCOrRx == "rx"
	notes := "Over-the-counter (OTC)."
	if requires {
		notes = "Prescription required (Rx)."
	}
	return map[string]any{"requires_prescription": requires, "notes": notes}, nil
}

// normalizePhone keeps + and digits only.
func normalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if r == '+' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, phone)
}

func (r *Registry) handleGetUserByPhone(ctx context.Context, args map[string]any) (map[string]any, error) {
	phone, _ := args["phone"].(string)
	phone = strings.TrimSpace(phone)
	if len(phone) < 7 {
		return map[string]any{"found": false, "user": nil, "error": ErrCodeInvalidPhone}, nil
	}

	user, err := r.store.UserByPhone(ctx, normalizePhone(phone))
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{"found": false, "user": nil}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"found": true, "user": map[string]any{
		"id":                 user.ID,
		"full_name":          user.FullName,
		"preferred_language": user.PreferredLanguage,
	}}, nil
}

func (r *Registry) handleGetCurrentUser(ctx context.Context, args map[string]any) (map[string]any, error) {
	userID := UserIDFromContext(ctx)
	if userID == "" {
		return map[string]any{"found": false, "user": nil, "error": ErrCodeAuthenticationRequired}, nil
	}

	user, err := r.store.UserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{"found": false, "user": nil, "error": ErrCodeUnknownUser}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"found": true, "user": map[string]any{
		"id":                 user.ID,
		"full_name":          user.FullName,
		"phone":              user.Phone,
		"preferred_language": user.PreferredLanguage,
		"loyalty_id":         user.LoyaltyID,
	}}, nil
}

func (r *Registry) handleCreatePrescriptionRequest(ctx context.Context, args map[string]any) (map[string]any, error) {
	userID, _ := args["user_id"].(string)
	medicationID, _ := args["medication_id"].(string)
	pickupStore, _ := args["pickup_store"].(string)
	userID = strings.TrimSpace(userID)
	medicationID = strings.TrimSpace(medicationID)
	pickupStore = strings.TrimSpace(pickupStore)

	if userID == "" || medicationID == "" {
		return map[string]any{"request_id": nil, "status": "error", "error": ErrCodeMissingRequiredFields}, nil
	}

	if _, err := r.store.UserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{"request_id": nil, "status": "error", "error": ErrCodeUnknownUser}, nil
		}
		return nil, err
	}
	if _, err := r.store.MedicationByID(ctx, medicationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]any{"request_id": nil, "status": "error", "error": ErrCodeUnknownMedication}, nil
		}
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{"pickup_store": pickupStore})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	ticketID, err := r.store.CreateTicket(ctx, store.Ticket{
		Type:         store.TicketPrescriptionRequest,
		UserID:       userID,
		MedicationID: medicationID,
		StoreName:    pickupStore,
		Payload:      string(payload),
	})
	if err != nil {
		return nil, err
	}

	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTools,
		Kind:      events.KindTicketCreated,
		Data: map[string]any{
			"ticket_id":     ticketID,
			"user_id":       userID,
			"medication_id": medicationID,
		},
	})
	return map[string]any{"request_id": ticketID, "status": "created"}, nil
}

func (r *Registry) handleReserveInventory(ctx context.Context, args map[string]any) (map[string]any, error) {
	medicationID, _ := args["medication_id"].(string)
	storeName, _ := args["store_name"].(string)
	medicationID = strings.TrimSpace(medicationID)
	storeName = store.NormalizeName(storeName)

	quantity := 0
	if q, ok := args["quantity"].(float64); ok {
		quantity = int(q)
	}

	if medicationID == "" || storeName == "" || quantity <= 0 {
		return map[string]any{"reserved": false, "reason": ErrCodeMissingRequiredFields}, nil
	}

	userID := UserIDFromContext(ctx)
	if userID == "" {
		return map[string]any{"reserved": false, "reason": ErrCodeAuthenticationRequired}, nil
	}

	ticketID, err := r.store.ReserveInventory(ctx, medicationID, storeName, quantity, userID)
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		return map[string]any{"reserved": false, "reason": ErrCodeStoreOrItemNotFound}, nil
	case errors.Is(err, store.ErrInsufficientStock):
		return map[string]any{"reserved": false, "reason": ErrCodeInsufficientStock}, nil
	case err != nil:
		return nil, err
	}

	r.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTools,
		Kind:      events.KindReservationCreated,
		Data: map[string]any{
			"ticket_id":     ticketID,
			"medication_id": medicationID,
			"store":         storeName,
			"quantity":      quantity,
		},
	})
	return map[string]any{"reserved": true, "reservation_id": ticketID}, nil
}
