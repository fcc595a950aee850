package summary

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// DocumentWriter is the Firestore capability used by FirestoreSink.
type DocumentWriter interface {
	SetDocument(ctx context.Context, collection, id string, data map[string]any) error
	Close() error
}

// FirestoreConfig configures NewFirestoreSink.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string // optional; default credentials otherwise
	Collection      string
}

// FirestoreSink stores each record as a document keyed by call id.
type FirestoreSink struct {
	writer     DocumentWriter
	collection string
	logger     *zap.Logger
}

// NewFirestoreSink initializes a Firebase app and its Firestore client.
func NewFirestoreSink(ctx context.Context, cfg FirestoreConfig, logger *zap.Logger) (*FirestoreSink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firestore: %w", err)
	}

	return NewFirestoreSinkWithWriter(&firestoreWriter{client: client}, cfg.Collection, logger), nil
}

// NewFirestoreSinkWithWriter creates a sink over an existing writer.
func NewFirestoreSinkWithWriter(w DocumentWriter, collection string, logger *zap.Logger) *FirestoreSink {
	if collection == "" {
		collection = "calls"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FirestoreSink{writer: w, collection: collection, logger: logger}
}

// Save writes r to the configured collection. Records without a call id get
// a random document id.
func (s *FirestoreSink) Save(ctx context.Context, r *Record) error {
	if r == nil {
		return fmt.Errorf("summary: nil record")
	}

	data, err := recordDocument(r)
	if err != nil {
		return err
	}

	id := r.CallSid
	if id == "" {
		id = uuid.NewString()
	}

	if err := s.writer.SetDocument(ctx, s.collection, id, data); err != nil {
		return fmt.Errorf("write firestore %s/%s: %w", s.collection, id, err)
	}

	s.logger.Info("call summary saved to Firestore",
		zap.String("collection", s.collection),
		zap.String("doc_id", id),
		zap.String("call_sid", r.CallSid),
	)
	return nil
}

// Close releases the Firestore client.
func (s *FirestoreSink) Close() error {
	return s.writer.Close()
}

// recordDocument converts r to a document map with the record's JSON keys.
func recordDocument(r *Record) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}

type firestoreWriter struct {
	client *firestore.Client
}

func (w *firestoreWriter) SetDocument(ctx context.Context, collection, id string, data map[string]any) error {
	doc := make(map[string]any, len(data)+1)
	for k, v := range data {
		doc[k] = v
	}
	doc["savedAt"] = firestore.ServerTimestamp

	_, err := w.client.Collection(collection).Doc(id).Set(ctx, doc)
	return err
}

func (w *firestoreWriter) Close() error {
	return w.client.Close()
}
