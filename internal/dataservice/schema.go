package dataservice

import (
	"reflect"
	"time"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/matthewbaird/protestdesk/internal/types"
)

// descriptor binds an entity type to its table. fields returns pointers to the
// struct fields in column order; column 0 is always "id" and the last column
// is always "created_at".
type descriptor[T any] struct {
	table  *schema.Table
	fields func(*T) []any
}

func (d descriptor[T]) columns() []string {
	names := make([]string, len(d.table.Columns))
	for i, c := range d.table.Columns {
		names[i] = c.Name
	}
	return names
}

func (d descriptor[T]) id(v *T) *string {
	return d.fields(v)[0].(*string)
}

func (d descriptor[T]) createdAt(v *T) *time.Time {
	f := d.fields(v)
	return f[len(f)-1].(*time.Time)
}

// values dereferences the field pointers. Nil pointer fields become untyped
// nil so both the SQL driver and the memory filter see NULL.
func (d descriptor[T]) values(v *T) []any {
	ptrs := d.fields(v)
	out := make([]any, len(ptrs))
	for i, p := range ptrs {
		out[i] = deref(reflect.ValueOf(p).Elem())
	}
	return out
}

func (d descriptor[T]) columnIndex(name string) int {
	for i, c := range d.table.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func deref(v reflect.Value) any {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		return v.Elem().Interface()
	}
	return v.Interface()
}

func newTable(name string, cols []*schema.Column, indexed ...string) *schema.Table {
	t := &schema.Table{
		Name:       name,
		Columns:    cols,
		PrimaryKey: []*schema.Column{cols[0]},
	}
	for _, col := range indexed {
		for _, c := range cols {
			if c.Name == col {
				t.Indexes = append(t.Indexes, &schema.Index{
					Name:    name + "_" + col,
					Columns: []*schema.Column{c},
				})
			}
		}
	}
	return t
}

func idColumn() *schema.Column {
	return &schema.Column{Name: "id", Type: field.TypeString, Size: 36}
}

func str(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Default: ""}
}

func nullStr(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Nullable: true}
}

func text(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeString, Size: 2147483647, Default: ""}
}

func boolean(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeBool, Default: false}
}

func float(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeFloat64, Nullable: true}
}

func integer(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeInt64, Default: 0}
}

func nullTime(name string) *schema.Column {
	return &schema.Column{Name: name, Type: field.TypeTime, Nullable: true}
}

func createdColumn() *schema.Column {
	return &schema.Column{Name: "created_at", Type: field.TypeTime}
}

var ownerDesc = descriptor[types.Owner]{
	table: newTable("owners", []*schema.Column{
		idColumn(), str("user_id"), str("first_name"), str("last_name"), str("email"), str("phone"),
		str("role"), boolean("is_entity"), nullStr("entity_name"), nullStr("entity_relationship"),
		nullStr("entity_type"), createdColumn(),
	}, "email", "user_id"),
	fields: func(o *types.Owner) []any {
		return []any{
			&o.ID, &o.UserID, &o.FirstName, &o.LastName, &o.Email, &o.Phone,
			&o.Role, &o.IsEntity, &o.EntityName, &o.EntityRelationship,
			&o.EntityType, &o.CreatedAt,
		}
	},
}

var propertyDesc = descriptor[types.Property]{
	table: newTable("properties", []*schema.Column{
		idColumn(), str("owner_id"), str("user_id"), str("place_id"), str("formatted_address"),
		str("street"), str("city"), str("state"), str("zip"), str("county"),
		float("latitude"), float("longitude"), str("status"), createdColumn(),
	}, "user_id", "place_id"),
	fields: func(p *types.Property) []any {
		return []any{
			&p.ID, &p.OwnerID, &p.UserID, &p.PlaceID, &p.FormattedAddress,
			&p.Street, &p.City, &p.State, &p.Zip, &p.County,
			&p.Latitude, &p.Longitude, &p.Status, &p.CreatedAt,
		}
	},
}

var applicationDesc = descriptor[types.Application]{
	table: newTable("applications", []*schema.Column{
		idColumn(), str("owner_id"), str("property_id"), str("user_id"), text("signature"),
		str("signature_mode"), boolean("is_owner_verified"), boolean("updates_opt_in"),
		str("channel"), str("submitted_by"), str("status"), createdColumn(),
	}, "property_id"),
	fields: func(a *types.Application) []any {
		return []any{
			&a.ID, &a.OwnerID, &a.PropertyID, &a.UserID, &a.Signature,
			&a.SignatureMode, &a.IsOwnerVerified, &a.UpdatesOptIn,
			&a.Channel, &a.SubmittedBy, &a.Status, &a.CreatedAt,
		}
	},
}

var protestDesc = descriptor[types.Protest]{
	table: newTable("protests", []*schema.Column{
		idColumn(), str("property_id"), str("application_id"), str("owner_id"),
		integer("tax_year"), str("status"), createdColumn(),
	}, "property_id"),
	fields: func(p *types.Protest) []any {
		return []any{&p.ID, &p.PropertyID, &p.ApplicationID, &p.OwnerID, &p.TaxYear, &p.Status, &p.CreatedAt}
	},
}

var contactDesc = descriptor[types.Contact]{
	table: newTable("contacts", []*schema.Column{
		idColumn(), str("first_name"), str("last_name"), str("email"), str("phone"), str("source"), createdColumn(),
	}, "email"),
	fields: func(c *types.Contact) []any {
		return []any{&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Source, &c.CreatedAt}
	},
}

var evidenceDesc = descriptor[types.EvidenceUpload]{
	table: newTable("evidence_uploads", []*schema.Column{
		idColumn(), str("property_id"), nullStr("protest_id"), str("user_id"), str("bucket"),
		str("object_path"), str("file_name"), str("content_type"), integer("size_bytes"), createdColumn(),
	}, "property_id"),
	fields: func(e *types.EvidenceUpload) []any {
		return []any{
			&e.ID, &e.PropertyID, &e.ProtestID, &e.UserID, &e.Bucket,
			&e.ObjectPath, &e.FileName, &e.ContentType, &e.SizeBytes, &e.CreatedAt,
		}
	},
}

var documentDesc = descriptor[types.CustomerDocument]{
	table: newTable("customer_documents", []*schema.Column{
		idColumn(), str("user_id"), str("property_id"), str("document_type"), str("bucket"),
		str("object_path"), str("status"), createdColumn(),
	}, "user_id"),
	fields: func(d *types.CustomerDocument) []any {
		return []any{&d.ID, &d.UserID, &d.PropertyID, &d.DocumentType, &d.Bucket, &d.ObjectPath, &d.Status, &d.CreatedAt}
	},
}

var profileDesc = descriptor[types.Profile]{
	table: newTable("profiles", []*schema.Column{
		idColumn(), str("email"), str("first_name"), str("last_name"), str("phone"),
		str("role"), str("referral_code"), createdColumn(),
	}, "email", "referral_code"),
	fields: func(p *types.Profile) []any {
		return []any{&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.Role, &p.ReferralCode, &p.CreatedAt}
	},
}

var billDesc = descriptor[types.Bill]{
	table: newTable("bills", []*schema.Column{
		idColumn(), str("user_id"), str("property_id"), integer("amount_cents"), str("currency"),
		str("status"), nullTime("due_date"), str("description"), createdColumn(),
	}, "user_id"),
	fields: func(b *types.Bill) []any {
		return []any{
			&b.ID, &b.UserID, &b.PropertyID, &b.Amount.AmountCents, &b.Amount.Currency,
			&b.Status, &b.DueDate, &b.Description, &b.CreatedAt,
		}
	},
}

var invoiceDesc = descriptor[types.Invoice]{
	table: newTable("invoices", []*schema.Column{
		idColumn(), str("bill_id"), str("user_id"), str("number"), integer("amount_cents"),
		str("currency"), str("status"), createdColumn(),
	}, "user_id", "bill_id"),
	fields: func(i *types.Invoice) []any {
		return []any{&i.ID, &i.BillID, &i.UserID, &i.Number, &i.Amount.AmountCents, &i.Amount.Currency, &i.Status, &i.CreatedAt}
	},
}

var referralDesc = descriptor[types.Referral]{
	table: newTable("referrals", []*schema.Column{
		idColumn(), str("referrer_code"), str("referred_name"), str("referred_email"), str("source"),
		nullStr("property_id"), str("status"), createdColumn(),
	}, "referrer_code"),
	fields: func(r *types.Referral) []any {
		return []any{&r.ID, &r.ReferrerCode, &r.ReferredName, &r.ReferredEmail, &r.Source, &r.PropertyID, &r.Status, &r.CreatedAt}
	},
}

// Tables returns the ent schema tables for every entity, in creation order.
func Tables() []*schema.Table {
	return []*schema.Table{
		ownerDesc.table, propertyDesc.table, applicationDesc.table, protestDesc.table,
		contactDesc.table, evidenceDesc.table, documentDesc.table, profileDesc.table,
		billDesc.table, invoiceDesc.table, referralDesc.table,
	}
}
