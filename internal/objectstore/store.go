// Package objectstore implements the uniform result envelope described
// in spec §3.5/§4.1: every action result, trigger input, and
// collection is wrapped as a StoredObject that is either inline,
// externalized to object storage, or a chunked collection of
// addressable elements.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultExternalizationThreshold is the default byte-length of a
// serialized value above which Store externalizes it to object
// storage instead of inlining it. The spec leaves this as an open
// configuration question (§9); 256 KiB keeps inline rows small enough
// for a typical database document/row size limit while avoiding
// externalizing small action results (see SPEC_FULL.md Open Question 3).
const DefaultExternalizationThreshold = 256 * 1024

// ErrNotFound is returned when an ExternalObject's backing key does
// not exist in object storage.
var ErrNotFound = errors.New("objectstore: object not found")

// ErrIntegrity is returned by Retrieve when the fetched payload's
// sha256 does not match the ExternalObject's recorded sum.
var ErrIntegrity = errors.New("objectstore: sha256 mismatch")

// Kind discriminates the StoredObject variants.
type Kind string

const (
	KindInline     Kind = "inline"
	KindExternal   Kind = "external"
	KindCollection Kind = "collection"
)

// StoredObject is the uniform envelope around every action result,
// trigger input, and collection (spec §3.5). Exactly one of the
// variant-specific fields is meaningful, selected by Type.
type StoredObject struct {
	Type Kind `json:"type"`

	// Inline fields.
	Data     json.RawMessage `json:"data,omitempty"`
	Typename string          `json:"typename,omitempty"`

	// External fields.
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size,omitempty"`

	// Collection fields.
	KeyPrefix   string `json:"key_prefix,omitempty"`
	Length      int    `json:"length,omitempty"`
	ElementKind Kind   `json:"element_kind,omitempty"`
}

// Backend is the minimal put/get/delete surface an ObjectStore needs
// from a concrete object-storage provider. Implementations (memory,
// S3) are interchangeable behind Store so the core never names a
// provider (spec §9 "Object-store SDK specificity").
type Backend interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Store implements the ObjectStore contract from spec §4.1 on top of
// a Backend. It is safe for concurrent use; all state is either
// immutable configuration or delegated to the Backend.
type Store struct {
	backend   Backend
	bucket    string
	threshold int
}

// Option configures a Store.
type Option func(*Store)

// WithThreshold overrides DefaultExternalizationThreshold.
func WithThreshold(bytes int) Option {
	return func(s *Store) { s.threshold = bytes }
}

// New constructs a Store over the given backend and default bucket.
func New(backend Backend, bucket string, opts ...Option) *Store {
	s := &Store{backend: backend, bucket: bucket, threshold: DefaultExternalizationThreshold}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store serializes value and returns an InlineObject if the serialized
// form is at or below the externalization threshold, or persists it to
// the backend and returns an ExternalObject otherwise.
//
// Store is idempotent: repeated calls with the same key and identical
// content observe the same backend state (spec §8 round-trip law).
func (s *Store) Store(ctx context.Context, key string, value any) (StoredObject, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return StoredObject{}, fmt.Errorf("objectstore: marshal value for key %q: %w", key, err)
	}

	if len(raw) <= s.threshold {
		return StoredObject{Type: KindInline, Data: raw, Typename: typename(value)}, nil
	}

	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])
	if err := s.backend.Put(ctx, s.bucket, key, raw); err != nil {
		return StoredObject{}, fmt.Errorf("objectstore: put key %q: %w", key, err)
	}
	return StoredObject{
		Type:   KindExternal,
		Bucket: s.bucket,
		Key:    key,
		SHA256: digest,
		Size:   int64(len(raw)),
	}, nil
}

// Retrieve resolves a StoredObject into its raw value. Inline values
// are decoded in place; external values are fetched from the backend
// and integrity-checked against their recorded sha256; collections are
// expanded into an in-order slice of retrieved elements.
func (s *Store) Retrieve(ctx context.Context, obj StoredObject) (any, error) {
	switch obj.Type {
	case KindInline:
		var v any
		if len(obj.Data) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(obj.Data, &v); err != nil {
			return nil, fmt.Errorf("objectstore: decode inline value: %w", err)
		}
		return v, nil

	case KindExternal:
		raw, err := s.backend.Get(ctx, obj.Bucket, obj.Key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("objectstore: key %q: %w", obj.Key, ErrNotFound)
			}
			return nil, fmt.Errorf("objectstore: get key %q: %w", obj.Key, err)
		}
		sum := sha256.Sum256(raw)
		if hex.EncodeToString(sum[:]) != obj.SHA256 {
			return nil, fmt.Errorf("objectstore: key %q: %w", obj.Key, ErrIntegrity)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("objectstore: decode external value for key %q: %w", obj.Key, err)
		}
		return v, nil

	case KindCollection:
		out := make([]any, obj.Length)
		for i := range out {
			ref, err := s.collectionIndexAt(ctx, obj, i)
			if err != nil {
				return nil, fmt.Errorf("objectstore: read collection index %d: %w", i, err)
			}
			elem, err := s.Retrieve(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("objectstore: retrieve collection element %d: %w", i, err)
			}
			out[i] = elem
		}
		return out, nil

	default:
		return nil, fmt.Errorf("objectstore: unknown stored object type %q", obj.Type)
	}
}

// StoreCollection persists an ordered index of element references
// under keyPrefix and returns the addressable CollectionObject handle.
// refs[i] is itself a StoredObject (typically produced by a prior call
// to Store) addressing the i-th element; StoreCollection writes the
// index entry "<keyPrefix>/<index>" -> refs[i] so a single element can
// later be resolved via At without expanding the whole collection.
func (s *Store) StoreCollection(ctx context.Context, keyPrefix string, refs []StoredObject, elementKind Kind) (StoredObject, error) {
	for i, ref := range refs {
		raw, err := json.Marshal(ref)
		if err != nil {
			return StoredObject{}, fmt.Errorf("objectstore: marshal collection index %d: %w", i, err)
		}
		if err := s.backend.Put(ctx, s.bucket, indexKey(keyPrefix, i), raw); err != nil {
			return StoredObject{}, fmt.Errorf("objectstore: store collection index %d: %w", i, err)
		}
	}
	return StoredObject{
		Type:        KindCollection,
		KeyPrefix:   keyPrefix,
		Length:      len(refs),
		ElementKind: elementKind,
	}, nil
}

// At returns the addressable StoredObject handle for a single element
// of a collection without materializing the whole collection (spec
// §4.1 "collection.at"). The returned handle must itself be retrieved
// (via Retrieve) to obtain the element value.
func (s *Store) At(ctx context.Context, obj StoredObject, index int) (StoredObject, error) {
	return s.collectionIndexAt(ctx, obj, index)
}

func (s *Store) collectionIndexAt(ctx context.Context, obj StoredObject, index int) (StoredObject, error) {
	raw, err := s.backend.Get(ctx, s.bucket, indexKey(obj.KeyPrefix, index))
	if err != nil {
		return StoredObject{}, err
	}
	var ref StoredObject
	if err := json.Unmarshal(raw, &ref); err != nil {
		return StoredObject{}, fmt.Errorf("objectstore: decode collection index %d: %w", index, err)
	}
	return ref, nil
}

func indexKey(prefix string, index int) string {
	return fmt.Sprintf("%s/%d", prefix, index)
}

func typename(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case string:
		return "str"
	case float64, int, int64:
		return "float"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return fmt.Sprintf("%T", v)
	}
}
