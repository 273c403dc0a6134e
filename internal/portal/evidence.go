package portal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/storage"
	"github.com/matthewbaird/protestdesk/internal/types"
	"github.com/matthewbaird/protestdesk/internal/validate"
)

// ErrTooLarge is returned for uploads over the size cap.
var ErrTooLarge = errors.New("portal: upload too large")

var evidenceTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/heic",
	"image/webp",
	"text/plain",
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// EvidenceInput is one uploaded file.
type EvidenceInput struct {
	FileName    string
	ContentType string
	ProtestID   string
	Body        io.Reader
}

// sanitizeName reduces a client file name to a safe object name.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "evidence"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}

// UploadEvidence stores a file against one of the caller's properties.
func (s *Service) UploadEvidence(ctx context.Context, userID, propertyID string, in EvidenceInput) (types.EvidenceUpload, error) {
	prop, err := s.ownedProperty(ctx, userID, propertyID)
	if err != nil {
		return types.EvidenceUpload{}, err
	}
	var protestID *string
	if in.ProtestID != "" {
		pr, err := s.ds.Protests().Get(ctx, in.ProtestID)
		if err != nil || pr.PropertyID != prop.ID {
			return types.EvidenceUpload{}, validate.Errors{"protest_id": "is not a protest on this property"}
		}
		protestID = &pr.ID
	}

	body := bufio.NewReader(io.LimitReader(in.Body, s.maxUpload+1))
	contentType := strings.TrimSpace(strings.Split(in.ContentType, ";")[0])
	if contentType == "" || contentType == "application/octet-stream" {
		head, _ := body.Peek(512)
		contentType = strings.Split(http.DetectContentType(head), ";")[0]
	}
	if !slices.Contains(evidenceTypes, contentType) {
		return types.EvidenceUpload{}, validate.Errors{"file": "type " + contentType + " is not accepted"}
	}

	bucket, err := s.buckets.Bucket(storage.EvidenceBucket)
	if err != nil {
		return types.EvidenceUpload{}, err
	}
	name := sanitizeName(in.FileName)
	objectPath := path.Join(userID, prop.ID, uuid.NewString()+"-"+name)

	counted := &countingReader{r: body}
	obj, err := bucket.Upload(ctx, objectPath, contentType, counted)
	if err != nil {
		return types.EvidenceUpload{}, fmt.Errorf("uploading evidence: %w", err)
	}
	if counted.n > s.maxUpload {
		_ = bucket.Remove(context.WithoutCancel(ctx), objectPath)
		return types.EvidenceUpload{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxUpload)
	}
	if counted.n == 0 {
		_ = bucket.Remove(context.WithoutCancel(ctx), objectPath)
		return types.EvidenceUpload{}, validate.Errors{"file": "is empty"}
	}

	row, err := s.ds.EvidenceUploads().Create(ctx, types.EvidenceUpload{
		PropertyID:  prop.ID,
		ProtestID:   protestID,
		UserID:      userID,
		Bucket:      bucket.Name(),
		ObjectPath:  obj.Path,
		FileName:    name,
		ContentType: contentType,
		SizeBytes:   obj.Size,
	})
	if err != nil {
		_ = bucket.Remove(context.WithoutCancel(ctx), objectPath)
		return types.EvidenceUpload{}, fmt.Errorf("recording evidence: %w", err)
	}

	event.Best(ctx, s.rec, s.log, event.NewEvidenceUploaded(event.EvidenceUploadedPayload{
		EvidenceID: row.ID,
		PropertyID: prop.ID,
		ProtestID:  in.ProtestID,
		UserID:     userID,
		FileName:   name,
		SizeBytes:  row.SizeBytes,
	}))
	s.log.Info("evidence uploaded",
		zap.String("user_id", userID),
		zap.String("property_id", prop.ID),
		zap.Int64("size_bytes", row.SizeBytes))
	return row, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Evidence lists the evidence on one of the caller's properties.
func (s *Service) Evidence(ctx context.Context, userID, propertyID string) ([]types.EvidenceUpload, error) {
	if _, err := s.ownedProperty(ctx, userID, propertyID); err != nil {
		return nil, err
	}
	return s.ds.EvidenceUploads().List(ctx, dataservice.Where("property_id", propertyID).Newest())
}

// Documents lists the caller's generated documents.
func (s *Service) Documents(ctx context.Context, userID string) ([]types.CustomerDocument, error) {
	return s.ds.Documents().List(ctx, dataservice.Where("user_id", userID).Newest())
}

// DocumentContent opens a generated document for download.
func (s *Service) DocumentContent(ctx context.Context, userID, documentID string) (types.CustomerDocument, io.ReadCloser, storage.Object, error) {
	doc, err := s.ds.Documents().Get(ctx, documentID)
	if err != nil {
		return types.CustomerDocument{}, nil, storage.Object{}, err
	}
	if doc.UserID != userID {
		return types.CustomerDocument{}, nil, storage.Object{}, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	bucket, err := s.buckets.Bucket(doc.Bucket)
	if err != nil {
		return types.CustomerDocument{}, nil, storage.Object{}, err
	}
	rc, obj, err := bucket.Download(ctx, doc.ObjectPath)
	if err != nil {
		return types.CustomerDocument{}, nil, storage.Object{}, err
	}
	return doc, rc, obj, nil
}
