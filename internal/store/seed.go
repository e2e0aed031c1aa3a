package store

import (
	"context"
	"fmt"
	"time"
)

type seedMedication struct {
	Medication
	stock map[string]int // store id -> quantity
}

var seedStores = []struct {
	ID   string
	Name string
}{
	{"S-TA", "Tel Aviv - Dizengoff"},
	{"S-JLM", "Jerusalem - King George"},
	{"S-HFA", "Haifa - Carmel"},
}

var seedUsers = []User{
	{FullName: "Rotem Cohen", Phone: "+972501000001", PreferredLanguage: "he", LoyaltyID: "L-1001"},
	{FullName: "Noam Levi", Phone: "+972501000002", PreferredLanguage: "he", LoyaltyID: "L-1002"},
	{FullName: "Yael Mizrahi", Phone: "+972501000003", PreferredLanguage: "he", LoyaltyID: "L-1003"},
	{FullName: "Daniel Katz", Phone: "+972501000004", PreferredLanguage: "en", LoyaltyID: "L-1004"},
	{FullName: "Maya Rosen", Phone: "+972501000005", PreferredLanguage: "en", LoyaltyID: "L-1005"},
	{FullName: "Amit Shani", Phone: "+972501000006", PreferredLanguage: "he", LoyaltyID: "L-1006"},
	{FullName: "Tamar Azulay", Phone: "+972501000007", PreferredLanguage: "he", LoyaltyID: "L-1007"},
	{FullName: "Eitan Peretz", Phone: "+972501000008", PreferredLanguage: "en", LoyaltyID: "L-1008"},
	{FullName: "Lior Bar", Phone: "+972501000009", PreferredLanguage: "en", LoyaltyID: "L-1009"},
	{FullName: "Shira Gold", Phone: "+972501000010", PreferredLanguage: "he", LoyaltyID: "L-1010"},
}

// Two ibuprofen strengths are seeded on purpose: a bare "ibuprofen"
// lookup must come back ambiguous with both as alternatives.
var seedMedications = []seedMedication{
	{
		Medication: Medication{
			Name: "Paracetamol", NameHE: "פרצטמול",
			ActiveIngredients: `["acetaminophen"]`,
			Form:              "tablet", Strength: "500 mg",
			Manufacturer: "Synthetic Pharma", OTCOrRx: "otc",
			LabelInstructions: "Label instructions: Take as directed on the package label. Do not exceed the maximum daily dose stated on the label.",
			Warnings:          "Warnings: Contains acetaminophen. Overdose may cause severe liver damage. Keep out of reach of children.",
		},
		stock: map[string]int{"S-TA": 30, "S-JLM": 12, "S-HFA": 5},
	},
	{
		Medication: Medication{
			Name: "Ibuprofen", NameHE: "איבופרופן",
			ActiveIngredients: `["ibuprofen"]`,
			Form:              "tablet", Strength: "200 mg",
			Manufacturer: "Synthetic Pharma", OTCOrRx: "otc",
			LabelInstructions: "Label instructions: Take with food or milk if stomach upset occurs. Use the lowest effective dose per label.",
			Warnings:          "Warnings: NSAID. May increase risk of stomach bleeding. Do not use if allergic to NSAIDs.",
		},
		stock: map[string]int{"S-TA": 12, "S-JLM": 2, "S-HFA": 0},
	},
	{
		Medication: Medication{
			Name: "Ibuprofen", NameHE: "איבופרופן",
			ActiveIngredients: `["ibuprofen"]`,
			Form:              "tablet", Strength: "400 mg",
			Manufacturer: "Synthetic Pharma", OTCOrRx: "otc",
			LabelInstructions: "Label instructions: Take with food or milk if stomach upset occurs. Use the lowest effective dose per label.",
			Warnings:          "Warnings: NSAID. May increase risk of stomach bleeding. Do not use if allergic to NSAIDs.",
		},
		stock: map[string]int{"S-TA": 5, "S-JLM": 0, "S-HFA": 12},
	},
	{
		Medication: Medication{
			Name: "Amoxicillin", NameHE: "אמוקסיצילין",
			ActiveIngredients: `["amoxicillin"]`,
			Form:              "capsule", Strength: "500 mg",
			Manufacturer: "Synthetic Pharma", OTCOrRx: "rx",
			LabelInstructions: "Label instructions: Use only as prescribed. Complete the full course as prescribed.",
			Warnings:          "Warnings: Antibiotic. Allergic reactions may occur. Seek urgent care for signs of a severe allergy.",
		},
		stock: map[string]int{"S-TA": 12, "S-JLM": 30, "S-HFA": 2},
	},
	{
		Medication: Medication{
			Name: "Metformin", NameHE: "מטפורמין",
			ActiveIngredients: `["metformin"]`,
			Form:              "tablet", Strength: "500 mg",
			Manufacturer: "Synthetic Pharma", OTCOrRx: "rx",
			LabelInstructions: "Label instructions: Take only as prescribed. Follow the dosing schedule provided by the prescriber/pharmacist.",
			Warnings:          "Warnings: Prescription medication. Follow professional instructions. Contact a healthcare professional with questions.",
		},
		stock: map[string]int{"S-TA": 2, "S-JLM": 5, "S-HFA": 30},
	},
	{
		Medication: Medication{
			Name: "Omeprazole", NameHE: "אומפרזול",
			ActiveIngredients: `["omeprazole"]`,
			Form:              "capsule", Strength: "20 mg",
			Manufacturer: "Synthetic Pharma", OTCOrRx: "otc",
			LabelInstructions: "Label instructions: Take as directed on the package label. Swallow whole; do not crush or chew.",
			Warnings:          "Warnings: If symptoms persist, consult a healthcare professional. Keep out of reach of children.",
		},
		stock: map[string]int{"S-TA": 0, "S-JLM": 12, "S-HFA": 5},
	},
}

// SeedIfEmpty populates the demo catalog, users, inventory, and a pair
// of example prescriptions. It is a no-op when any user already exists,
// so repeated startups never duplicate data.
func (s *Store) SeedIfEmpty(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	userIDs := make([]string, len(seedUsers))
	for i, u := range seedUsers {
		userIDs[i] = NewID()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, full_name, phone, preferred_language, loyalty_id)
			 VALUES (?, ?, ?, ?, ?)`,
			userIDs[i], u.FullName, u.Phone, u.PreferredLanguage, u.LoyaltyID)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.FullName, err)
		}
	}

	now := time.Now().UTC()
	var rxIDs []string
	for _, m := range seedMedications {
		medID := NewID()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO medications (`+medicationCols+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			medID, m.Name, m.NameHE, m.ActiveIngredients, m.Form, m.Strength,
			m.Manufacturer, m.OTCOrRx, m.LabelInstructions, m.Warnings)
		if err != nil {
			return fmt.Errorf("seed medication %s: %w", m.Name, err)
		}
		if m.OTCOrRx == "rx" {
			rxIDs = append(rxIDs, medID)
		}

		for _, st := range seedStores {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO inventory (id, medication_id, store_id, store_name, quantity, last_updated)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				NewID(), medID, st.ID, st.Name, m.stock[st.ID], now)
			if err != nil {
				return fmt.Errorf("seed inventory %s/%s: %w", m.Name, st.Name, err)
			}
		}
	}

	prescriptions := []struct {
		userIdx int
		rxIdx   int
		refills int
		days    int
	}{
		{0, 0, 1, 60},
		{3, 1, 2, 90},
	}
	for _, p := range prescriptions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO prescriptions (id, user_id, medication_id, status, refills_left, expires_at)
			 VALUES (?, ?, ?, 'active', ?, ?)`,
			NewID(), userIDs[p.userIdx], rxIDs[p.rxIdx], p.refills, now.AddDate(0, 0, p.days))
		if err != nil {
			return fmt.Errorf("seed prescription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
