package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/activity"
	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/functions"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/storage"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
)

type fixture struct {
	ds       *dataservice.MemoryService
	buckets  *storage.MemoryBuckets
	activity *activity.MemoryStore
	svc      *Service
	enrolled submission.Result
}

// pngBytes is a 1x1 PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x60, 0x00, 0x02, 0x00,
	0x00, 0x05, 0x00, 0x01, 0xe9, 0xfa, 0xdc, 0xd8, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44,
	0xae, 0x42, 0x60, 0x82,
}

func newFixture(t *testing.T, maxUpload int64) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		ds:       dataservice.NewMemoryService(0),
		buckets:  storage.NewMemoryBuckets(),
		activity: activity.NewMemoryStore(),
	}
	fn := functions.NewRegistry()
	for _, name := range []string{functions.GenerateForm50162, functions.GenerateServicesAgreement} {
		fn.Register(name, func(context.Context, json.RawMessage) (any, error) { return nil, nil })
	}
	rec := event.NewActivityRecorder(f.activity)
	refs := referral.NewService(f.ds)
	pipe := submission.New(f.ds, fn, rec, zap.NewNop(), submission.WithReferrals(refs))
	f.svc = NewService(Config{
		DataService:    f.ds,
		Buckets:        f.buckets,
		Activity:       f.activity,
		Referrals:      refs,
		Submitter:      pipe,
		Recorder:       rec,
		Logger:         zap.NewNop(),
		MaxUploadBytes: maxUpload,
	})

	sig, err := signature.Capture(signature.Input{Mode: signature.ModeTyped, TypedName: "Ada Lovelace"})
	require.NoError(t, err)
	f.enrolled, err = pipe.Submit(ctx, submission.Request{
		Channel: submission.ChannelPublic,
		Owner:   submission.OwnerInput{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Role: "owner"},
		Place:   types.PlaceData{PlaceID: "pl_1", FormattedAddress: "123 Main St, Austin, TX"},

		Signature:       sig,
		SignatureMode:   "typed",
		IsOwnerVerified: true,
	})
	require.NoError(t, err)
	return f
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	userID := f.enrolled.UserID

	_, err := f.ds.Bills().Create(ctx, types.Bill{UserID: userID, PropertyID: f.enrolled.PropertyID,
		Amount: types.Money{AmountCents: 12500, Currency: "USD"}, Status: "open"})
	require.NoError(t, err)
	_, err = f.ds.Bills().Create(ctx, types.Bill{UserID: userID, Amount: types.Money{AmountCents: 999, Currency: "USD"}, Status: "paid"})
	require.NoError(t, err)

	d, err := f.svc.Dashboard(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", d.Profile.Email)
	require.Len(t, d.Properties, 1)
	require.NotNil(t, d.Properties[0].LatestProtest)
	assert.Equal(t, f.enrolled.ProtestID, d.Properties[0].LatestProtest.ID)
	assert.Len(t, d.OpenBills, 1)
	assert.Equal(t, int64(12500), d.OpenBalance.AmountCents)

	b, err := f.svc.Billing(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, b.Bills, 2)
	assert.Equal(t, int64(12500), b.OpenBalance.AmountCents)
}

func TestPropertyScopedToOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	detail, err := f.svc.Property(ctx, f.enrolled.UserID, f.enrolled.PropertyID)
	require.NoError(t, err)
	require.NotNil(t, detail.Owner)
	assert.Len(t, detail.Applications, 1)
	assert.Len(t, detail.Protests, 1)

	_, err = f.svc.Property(ctx, "intruder", f.enrolled.PropertyID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Protest(ctx, "intruder", f.enrolled.ProtestID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadEvidence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	userID, propID := f.enrolled.UserID, f.enrolled.PropertyID

	row, err := f.svc.UploadEvidence(ctx, userID, propID, EvidenceInput{
		FileName:  `C:\photos\front yard.png`,
		ProtestID: f.enrolled.ProtestID,
		Body:      bytes.NewReader(pngBytes),
	})
	require.NoError(t, err)
	assert.Equal(t, "front_yard.png", row.FileName)
	assert.Equal(t, "image/png", row.ContentType)
	assert.Equal(t, storage.EvidenceBucket, row.Bucket)
	assert.Equal(t, int64(len(pngBytes)), row.SizeBytes)
	assert.True(t, strings.HasPrefix(row.ObjectPath, userID+"/"+propID+"/"))

	bucket, err := f.buckets.Bucket(storage.EvidenceBucket)
	require.NoError(t, err)
	rc, _, err := bucket.Download(ctx, row.ObjectPath)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)

	pr, err := f.svc.Protest(ctx, userID, f.enrolled.ProtestID)
	require.NoError(t, err)
	assert.Len(t, pr.Evidence, 1)

	entries, _, _, err := f.svc.Activity(ctx, userID, propID, activity.QueryOptions{})
	require.NoError(t, err)
	seen := make([]string, 0, len(entries))
	for _, e := range entries {
		seen = append(seen, e.EventType)
	}
	assert.Contains(t, seen, "evidence_uploaded")
	assert.Contains(t, seen, "property_enrolled")
}

func TestUploadEvidence_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)
	userID, propID := f.enrolled.UserID, f.enrolled.PropertyID

	_, err := f.svc.UploadEvidence(ctx, userID, propID, EvidenceInput{
		FileName: "big.txt", ContentType: "text/plain", Body: strings.NewReader(strings.Repeat("x", 65)),
	})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.svc.UploadEvidence(ctx, userID, propID, EvidenceInput{
		FileName: "a.zip", ContentType: "application/zip", Body: strings.NewReader("PK"),
	})
	var verr validate.Errors
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr, "file")

	_, err = f.svc.UploadEvidence(ctx, userID, propID, EvidenceInput{
		FileName: "a.txt", ContentType: "text/plain", ProtestID: "other", Body: strings.NewReader("hi"),
	})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr, "protest_id")

	bucket, err := f.buckets.Bucket(storage.EvidenceBucket)
	require.NoError(t, err)
	objs, err := bucket.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestDocumentContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	userID := f.enrolled.UserID

	bucket, err := f.buckets.Bucket(storage.DocumentsBucket)
	require.NoError(t, err)
	obj, err := bucket.Upload(ctx, userID+"/doc.html", "text/html", strings.NewReader("<p>signed</p>"))
	require.NoError(t, err)
	doc, err := f.ds.Documents().Create(ctx, types.CustomerDocument{
		UserID: userID, PropertyID: f.enrolled.PropertyID, DocumentType: "form_50_162",
		Bucket: storage.DocumentsBucket, ObjectPath: obj.Path, Status: "generated",
	})
	require.NoError(t, err)

	_, rc, meta, err := f.svc.DocumentContent(ctx, userID, doc.ID)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "text/html", meta.ContentType)

	_, _, _, err = f.svc.DocumentContent(ctx, "intruder", doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	userID := f.enrolled.UserID

	phone := "512-555-0100"
	p, err := f.svc.UpdateAccount(ctx, userID, AccountPatch{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, p.Phone)
	assert.Equal(t, "Ada", p.FirstName)

	bad := "call me"
	_, err = f.svc.UpdateAccount(ctx, userID, AccountPatch{Phone: &bad})
	var verr validate.Errors
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr, "phone")

	_, err = f.svc.SetupAccount(ctx, SetupInput{Email: "ADA@example.com", FirstName: "Ada", LastName: "L"})
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestSetupAccountLinksOwners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	o, err := f.ds.Owners().Create(ctx, types.Owner{Email: "legacy@example.com", FirstName: "Leg", LastName: "Acy"})
	require.NoError(t, err)

	p, err := f.svc.SetupAccount(ctx, SetupInput{Email: "legacy@example.com", FirstName: "Leg", LastName: "Acy"})
	require.NoError(t, err)
	assert.Len(t, p.ReferralCode, 8)

	o, err = f.ds.Owners().Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, o.UserID)
}

func TestAddProperty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	userID := f.enrolled.UserID

	_, err := f.svc.AddProperty(ctx, userID, AddPropertyInput{Property: intake.AddressInput{Address: "9 Elm St"}})
	assert.ErrorIs(t, err, intake.ErrSupportRequired)

	res, err := f.svc.AddProperty(ctx, userID, AddPropertyInput{
		Property:  intake.AddressInput{PlaceID: "pl_2", FormattedAddress: "9 Elm St, Austin, TX"},
		Signature: intake.ReviewInput{SignatureMode: "typed", TypedName: "Ada Lovelace", IsOwnerVerified: true},
		TaxYear:   2026,
	})
	require.NoError(t, err)
	assert.False(t, res.OwnerCreated)
	assert.Equal(t, f.enrolled.OwnerID, res.OwnerID)
	assert.Equal(t, userID, res.UserID)

	props, err := f.svc.Properties(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, props, 2)

	app, err := f.ds.Applications().Get(ctx, res.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, submission.ChannelPortal, app.Channel)
}

func TestReferrals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	userID := f.enrolled.UserID

	_, err := f.svc.Invite(ctx, userID, InviteInput{Name: "Charles", Email: "charles@example.com"})
	require.NoError(t, err)
	_, err = f.svc.Invite(ctx, userID, InviteInput{Email: "ada@example.com"})
	assert.ErrorIs(t, err, referral.ErrSelfReferral)

	page, err := f.svc.Referrals(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, page.Code, 8)
	assert.Len(t, page.Referrals, 1)
	assert.Equal(t, 1, page.Summary.Pending)
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"photo.jpg":        "photo.jpg",
		"../../etc/passwd": "passwd",
		"my house (1).png": "my_house_1_.png",
		"":                 "evidence",
		"...":              "evidence",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeName(in), in)
	}
}
