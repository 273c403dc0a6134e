// Package documents renders the appointment-of-agent form and the services
// agreement for an enrolled property, stores them in the customer-documents
// bucket and records them as customer documents.
package documents

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/functions"
	"github.com/matthewbaird/protestdesk/internal/signature"
	"github.com/matthewbaird/protestdesk/internal/storage"
	"github.com/matthewbaird/protestdesk/internal/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Document types stored on CustomerDocument.
const (
	TypeForm50162         = "form_50_162"
	TypeServicesAgreement = "services_agreement"
)

// kinds maps each generation function to its document type and template.
var kinds = map[string]struct {
	docType  string
	template string
}{
	functions.GenerateForm50162:         {TypeForm50162, "form_50_162.html.tmpl"},
	functions.GenerateServicesAgreement: {TypeServicesAgreement, "services_agreement.html.tmpl"},
}

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}).ParseFS(templateFS, "templates/*.tmpl"))

// Agent identifies the firm appointed on the generated forms.
type Agent struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
	Email string `yaml:"email"`
}

// Generator renders and stores documents.
type Generator struct {
	ds         dataservice.DataService
	bucket     storage.Bucket
	rec        event.Recorder
	log        *zap.Logger
	agent      Agent
	feePercent int
	now        func() time.Time
}

// NewGenerator creates a Generator writing to bucket.
func NewGenerator(ds dataservice.DataService, bucket storage.Bucket, rec event.Recorder, log *zap.Logger, agent Agent, feePercent int) *Generator {
	return &Generator{
		ds:         ds,
		bucket:     bucket,
		rec:        rec,
		log:        log.Named("documents"),
		agent:      agent,
		feePercent: feePercent,
		now:        time.Now,
	}
}

// Register installs both generation functions in reg.
func (g *Generator) Register(reg *functions.Registry) {
	for name := range kinds {
		reg.Register(name, g.function(name))
	}
}

func (g *Generator) function(name string) functions.Func {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req functions.DocumentRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding request: %w", err)
		}
		if req.PropertyID == "" {
			return nil, fmt.Errorf("propertyId is required")
		}
		doc, err := g.Generate(ctx, name, req)
		if err != nil {
			return nil, err
		}
		return map[string]string{"documentId": doc.ID, "path": doc.ObjectPath}, nil
	}
}

type view struct {
	Owner        types.Owner
	OwnerName    string
	Property     types.Property
	Agent        Agent
	TaxYear      int
	Signature    template.URL
	UpdatesOptIn bool
	FeePercent   int
	Date         string
}

// Generate renders the document produced by function name for the property
// in req, uploads it and inserts the CustomerDocument row.
func (g *Generator) Generate(ctx context.Context, name string, req functions.DocumentRequest) (types.CustomerDocument, error) {
	kind, ok := kinds[name]
	if !ok {
		return types.CustomerDocument{}, fmt.Errorf("%w: %s", functions.ErrUnknownFunction, name)
	}

	prop, err := g.ds.Properties().Get(ctx, req.PropertyID)
	if err != nil {
		return types.CustomerDocument{}, fmt.Errorf("loading property: %w", err)
	}
	owner, err := g.ds.Owners().Get(ctx, prop.OwnerID)
	if err != nil {
		return types.CustomerDocument{}, fmt.Errorf("loading owner: %w", err)
	}

	v := view{
		Owner:      owner,
		OwnerName:  owner.FirstName + " " + owner.LastName,
		Property:   prop,
		Agent:      g.agent,
		TaxYear:    g.now().Year(),
		FeePercent: g.feePercent,
		Date:       g.now().Format("January 2, 2006"),
	}
	if app, err := dataservice.First(ctx, g.ds.Applications(), dataservice.Where("property_id", prop.ID).Newest()); err == nil {
		if signature.Present(app.Signature) {
			v.Signature = template.URL(app.Signature)
		}
		v.UpdatesOptIn = app.UpdatesOptIn
	}
	if protest, err := dataservice.First(ctx, g.ds.Protests(), dataservice.Where("property_id", prop.ID).Newest()); err == nil {
		v.TaxYear = protest.TaxYear
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, kind.template, v); err != nil {
		return types.CustomerDocument{}, fmt.Errorf("rendering %s: %w", kind.docType, err)
	}

	userID := req.UserID
	if userID == "" {
		userID = prop.UserID
	}
	objectPath := path.Join(userID, prop.ID, kind.docType+".html")
	if _, err := g.bucket.Upload(ctx, objectPath, "text/html; charset=utf-8", &buf); err != nil {
		return types.CustomerDocument{}, fmt.Errorf("uploading %s: %w", kind.docType, err)
	}

	doc, err := g.ds.Documents().Create(ctx, types.CustomerDocument{
		UserID:       userID,
		PropertyID:   prop.ID,
		DocumentType: kind.docType,
		Bucket:       g.bucket.Name(),
		ObjectPath:   objectPath,
		Status:       "generated",
	})
	if err != nil {
		return types.CustomerDocument{}, fmt.Errorf("recording %s: %w", kind.docType, err)
	}

	event.Best(ctx, g.rec, g.log, event.NewDocumentGenerated(event.DocumentGeneratedPayload{
		DocumentID:   doc.ID,
		PropertyID:   prop.ID,
		UserID:       userID,
		DocumentType: kind.docType,
	}))
	g.log.Info("document generated",
		zap.String("document_type", kind.docType),
		zap.String("property_id", prop.ID),
		zap.String("path", objectPath))
	return doc, nil
}
