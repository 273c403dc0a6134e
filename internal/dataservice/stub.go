package dataservice

import (
	"context"
	"fmt"

	"github.com/matthewbaird/protestdesk/internal/types"
)

// StubService is a placeholder for a backend that has not been built yet.
// Every call fails with ErrNotImplemented.
type StubService struct{}

// NewStubService creates a StubService.
func NewStubService() *StubService { return &StubService{} }

func (StubService) Name() string                                 { return "stub" }
func (StubService) Owners() Table[types.Owner]                   { return stubTable[types.Owner]{"owners"} }
func (StubService) Properties() Table[types.Property]            { return stubTable[types.Property]{"properties"} }
func (StubService) Applications() Table[types.Application]       { return stubTable[types.Application]{"applications"} }
func (StubService) Protests() Table[types.Protest]               { return stubTable[types.Protest]{"protests"} }
func (StubService) Contacts() Table[types.Contact]               { return stubTable[types.Contact]{"contacts"} }
func (StubService) EvidenceUploads() Table[types.EvidenceUpload] { return stubTable[types.EvidenceUpload]{"evidence_uploads"} }
func (StubService) Documents() Table[types.CustomerDocument]     { return stubTable[types.CustomerDocument]{"customer_documents"} }
func (StubService) Profiles() Table[types.Profile]               { return stubTable[types.Profile]{"profiles"} }
func (StubService) Bills() Table[types.Bill]                     { return stubTable[types.Bill]{"bills"} }
func (StubService) Invoices() Table[types.Invoice]               { return stubTable[types.Invoice]{"invoices"} }
func (StubService) Referrals() Table[types.Referral]             { return stubTable[types.Referral]{"referrals"} }

type stubTable[T any] struct {
	table string
}

func (t stubTable[T]) fail(op string) error {
	return fmt.Errorf("%s.%s: %w", t.table, op, ErrNotImplemented)
}

func (t stubTable[T]) Create(context.Context, T) (T, error) {
	var zero T
	return zero, t.fail("create")
}

func (t stubTable[T]) Get(context.Context, string) (T, error) {
	var zero T
	return zero, t.fail("get")
}

func (t stubTable[T]) List(context.Context, Query) ([]T, error) {
	return nil, t.fail("list")
}

func (t stubTable[T]) Update(context.Context, T) (T, error) {
	var zero T
	return zero, t.fail("update")
}

func (t stubTable[T]) Delete(context.Context, string) error {
	return t.fail("delete")
}
