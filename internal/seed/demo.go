// Package seed provides demo data seeding for the data service.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/types"
)

// Customer is one seeded portal account.
type Customer struct {
	Profile    types.Profile
	Owner      types.Owner
	Properties []types.Property
}

type demoProperty struct {
	place   types.PlaceData
	status  string
	protest string
	billUSD int64 // zero means no bill
}

type demoCustomer struct {
	first, last, email, phone string
	trust                     string // trust name, empty for individuals
	properties                []demoProperty
}

func f(v float64) *float64 { return &v }

var demoCustomers = []demoCustomer{
	// ─── Dana Whitfield: two homes, one protest settled and billed ───
	{
		first: "Dana", last: "Whitfield", email: "dana.whitfield@example.com", phone: "+1 512 555 0141",
		properties: []demoProperty{
			{
				place: types.PlaceData{
					PlaceID: "demo_place_austin_1", FormattedAddress: "4102 Avenue G, Austin, TX 78751, USA",
					Street: "4102 Avenue G", City: "Austin", State: "TX", Zip: "78751", County: "Travis",
					Latitude: f(30.3072), Longitude: f(-97.7253),
				},
				status: "active", protest: "settled", billUSD: 38500,
			},
			{
				place: types.PlaceData{
					PlaceID: "demo_place_austin_2", FormattedAddress: "907 Blanco St, Austin, TX 78703, USA",
					Street: "907 Blanco St", City: "Austin", State: "TX", Zip: "78703", County: "Travis",
				},
				status: "enrolled", protest: "pending",
			},
		},
	},
	// ─── Ruiz Family Trust: entity owner, hearing scheduled ───
	{
		first: "Elena", last: "Ruiz", email: "elena.ruiz@example.com", trust: "Ruiz Family Trust",
		properties: []demoProperty{
			{
				place: types.PlaceData{
					PlaceID: "demo_place_houston_1", FormattedAddress: "2215 Driscoll St, Houston, TX 77019, USA",
					Street: "2215 Driscoll St", City: "Houston", State: "TX", Zip: "77019", County: "Harris",
				},
				status: "active", protest: "hearing",
			},
		},
	},
}

// SeedDemoData creates a few portal customers with properties, protests and
// bills. If the first demo profile already exists it skips seeding.
func SeedDemoData(ctx context.Context, ds dataservice.DataService, log *zap.Logger) ([]Customer, error) {
	_, err := dataservice.First(ctx, ds.Profiles(), dataservice.Where("email", demoCustomers[0].email))
	if err == nil {
		log.Info("demo data already seeded, skipping")
		return nil, nil
	}
	if !errors.Is(err, dataservice.ErrNotFound) {
		return nil, fmt.Errorf("checking demo data: %w", err)
	}

	year := time.Now().Year()
	var out []Customer
	for _, dc := range demoCustomers {
		c, err := seedCustomer(ctx, ds, dc, year)
		if err != nil {
			return out, fmt.Errorf("seeding %s: %w", dc.email, err)
		}
		out = append(out, c)
	}
	log.Info("demo data seeded", zap.Int("customers", len(out)))
	return out, nil
}

func seedCustomer(ctx context.Context, ds dataservice.DataService, dc demoCustomer, year int) (Customer, error) {
	profile, err := ds.Profiles().Create(ctx, types.Profile{
		Email:        dc.email,
		FirstName:    dc.first,
		LastName:     dc.last,
		Phone:        dc.phone,
		Role:         "customer",
		ReferralCode: referral.NewCode(),
	})
	if err != nil {
		return Customer{}, fmt.Errorf("creating profile: %w", err)
	}

	owner := types.Owner{
		UserID:    profile.ID,
		FirstName: dc.first,
		LastName:  dc.last,
		Email:     dc.email,
		Phone:     dc.phone,
		Role:      "owner",
	}
	if dc.trust != "" {
		name, rel, typ := dc.trust, "trustee", "trust"
		owner.IsEntity = true
		owner.EntityName, owner.EntityRelationship, owner.EntityType = &name, &rel, &typ
	}
	owner, err = ds.Owners().Create(ctx, owner)
	if err != nil {
		return Customer{}, fmt.Errorf("creating owner: %w", err)
	}

	c := Customer{Profile: profile, Owner: owner}
	for _, dp := range dc.properties {
		prop, err := ds.Properties().Create(ctx, types.Property{
			OwnerID:          owner.ID,
			UserID:           profile.ID,
			PlaceID:          dp.place.PlaceID,
			FormattedAddress: dp.place.FormattedAddress,
			Street:           dp.place.Street,
			City:             dp.place.City,
			State:            dp.place.State,
			Zip:              dp.place.Zip,
			County:           dp.place.County,
			Latitude:         dp.place.Latitude,
			Longitude:        dp.place.Longitude,
			Status:           dp.status,
		})
		if err != nil {
			return c, fmt.Errorf("creating property: %w", err)
		}
		app, err := ds.Applications().Create(ctx, types.Application{
			OwnerID:         owner.ID,
			PropertyID:      prop.ID,
			UserID:          profile.ID,
			Signature:       dc.first + " " + dc.last,
			SignatureMode:   "typed",
			IsOwnerVerified: true,
			Channel:         "public",
			SubmittedBy:     "self",
			Status:          "accepted",
		})
		if err != nil {
			return c, fmt.Errorf("creating application: %w", err)
		}
		if _, err := ds.Protests().Create(ctx, types.Protest{
			PropertyID:    prop.ID,
			ApplicationID: app.ID,
			OwnerID:       owner.ID,
			TaxYear:       year,
			Status:        dp.protest,
		}); err != nil {
			return c, fmt.Errorf("creating protest: %w", err)
		}
		if dp.billUSD > 0 {
			if err := seedBill(ctx, ds, profile.ID, prop.ID, dp.billUSD, year); err != nil {
				return c, err
			}
		}
		c.Properties = append(c.Properties, prop)
	}
	return c, nil
}

func seedBill(ctx context.Context, ds dataservice.DataService, userID, propertyID string, cents int64, year int) error {
	due := time.Now().AddDate(0, 1, 0).UTC().Truncate(24 * time.Hour)
	amount := types.Money{AmountCents: cents, Currency: "USD"}
	bill, err := ds.Bills().Create(ctx, types.Bill{
		UserID:      userID,
		PropertyID:  propertyID,
		Amount:      amount,
		Status:      "open",
		DueDate:     &due,
		Description: fmt.Sprintf("Contingency fee, %d protest", year),
	})
	if err != nil {
		return fmt.Errorf("creating bill: %w", err)
	}
	if _, err := ds.Invoices().Create(ctx, types.Invoice{
		BillID: bill.ID,
		UserID: userID,
		Number: fmt.Sprintf("INV-%d-%s", year, bill.ID[:8]),
		Amount: amount,
		Status: "issued",
	}); err != nil {
		return fmt.Errorf("creating invoice: %w", err)
	}
	return nil
}
