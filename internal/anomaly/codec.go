package anomaly

import (
	"bytes"
	"encoding"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
)

// FormatVersion is the artifact envelope version written by this build.
const FormatVersion = 1

// Envelope tags a serialized model with its kind so the decoder can
// pick the right variant without guessing.
type Envelope struct {
	Kind          domain.ModelType `json:"kind"`
	FormatVersion int              `json:"format_version"`
	Payload       json.RawMessage  `json:"payload"`
}

// Codec encodes and decodes models to one on-disk format.
type Codec interface {
	Name() string
	Ext() string
	Encode(m domain.AnomalyModel) ([]byte, error)
	Decode(data []byte) (domain.AnomalyModel, error)
}

var (
	// JSON is the primary codec.
	JSON Codec = jsonCodec{}

	// Gob is the secondary codec kept for fallback loading.
	Gob Codec = gobCodec{}
)

// Codecs returns codecs in load preference order.
func Codecs() []Codec {
	return []Codec{JSON, Gob}
}

// New creates an unfitted model of the given kind.
func New(kind domain.ModelType, cfg domain.TrainingConfig) (domain.AnomalyModel, error) {
	switch kind {
	case domain.ModelIsolationForest:
		return NewIsolationForest(
			WithTrees(cfg.Trees),
			WithSampleSize(cfg.MaxSamples),
			WithContamination(cfg.Contamination),
			WithSeed(cfg.Seed),
		), nil

	case domain.ModelAutoencoder:
		ac := DefaultAutoencoderConfig()
		ac.Epochs = cfg.Epochs
		ac.BatchSize = cfg.BatchSize
		ac.LearningRate = cfg.LearningRate
		ac.ThresholdPercentile = cfg.ThresholdPercentile
		ac.Seed = cfg.Seed
		return NewAutoencoder(ac), nil

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModelType, kind)
	}
}

// empty returns a zero model ready to be decoded into.
func empty(kind domain.ModelType) (domain.AnomalyModel, error) {
	switch kind {
	case domain.ModelIsolationForest:
		return &IsolationForest{}, nil
	case domain.ModelAutoencoder:
		return &Autoencoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownModelType, kind)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Ext() string  { return ".json" }

func (jsonCodec) Encode(m domain.AnomalyModel) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind(), err)
	}
	return json.Marshal(Envelope{
		Kind:          m.Kind(),
		FormatVersion: FormatVersion,
		Payload:       payload,
	})
}

func (jsonCodec) Decode(data []byte) (domain.AnomalyModel, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d", domain.ErrSchemaMismatch, env.FormatVersion)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrSchemaMismatch)
	}
	m, err := empty(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, m); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return m, nil
}

// gobEnvelope mirrors Envelope with a binary payload.
type gobEnvelope struct {
	Kind          domain.ModelType
	FormatVersion int
	Payload       []byte
}

type gobCodec struct{}

func (gobCodec) Name() string { return "gob" }
func (gobCodec) Ext() string  { return ".gob" }

func (gobCodec) Encode(m domain.AnomalyModel) ([]byte, error) {
	bm, ok := m.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no binary form", domain.ErrSchemaMismatch, m.Kind())
	}
	payload, err := bm.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Kind(), err)
	}
	var buf bytes.Buffer
	env := gobEnvelope{Kind: m.Kind(), FormatVersion: FormatVersion, Payload: payload}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Decode(data []byte) (domain.AnomalyModel, error) {
	var env gobEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d", domain.ErrSchemaMismatch, env.FormatVersion)
	}
	m, err := empty(env.Kind)
	if err != nil {
		return nil, err
	}
	bu, ok := m.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no binary form", domain.ErrSchemaMismatch, env.Kind)
	}
	if err := bu.UnmarshalBinary(env.Payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return m, nil
}
