package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	rerrors "github.com/vango-dev/remoting/internal/errors"
	"github.com/vango-dev/remoting/pkg/model"
)

// MaxPayloadSize is the default upper bound for one encoded batch (4MB).
const MaxPayloadSize = 4 << 20

// Codec errors. Any decode error is fatal for the whole payload.
var (
	// ErrUnknownCommand is returned for a discriminator that names no command.
	ErrUnknownCommand = rerrors.New(rerrors.CodeUnknownCommand)

	// ErrMissingCommandID is returned when a command object has no "id".
	ErrMissingCommandID = rerrors.New(rerrors.CodeMissingCommandID)

	// ErrMalformedPayload is returned when the payload is not a JSON array of objects.
	ErrMalformedPayload = rerrors.New(rerrors.CodeMalformedPayload)

	// ErrPayloadTooLarge is returned when a payload exceeds the codec's size limit.
	ErrPayloadTooLarge = rerrors.New(rerrors.CodePayloadTooLarge)

	// ErrNilCommand is returned when encoding a batch that contains nil.
	ErrNilCommand = rerrors.New(rerrors.CodeNilCommand)
)

// Codec converts command batches to and from their wire representation.
type Codec interface {
	Encode(cmds []Command) ([]byte, error)
	Decode(data []byte) ([]Command, error)
}

// JSONCodec encodes batches as JSON arrays of discriminated objects.
// The zero value is ready to use.
type JSONCodec struct {
	// MaxSize limits encoded and decoded payloads.
	// Default: MaxPayloadSize
	MaxSize int
}

func (c JSONCodec) maxSize() int {
	if c.MaxSize > 0 {
		return c.MaxSize
	}
	return MaxPayloadSize
}

type wireAttribute struct {
	PropertyName string `json:"propertyName"`
	Value        any    `json:"value"`
	Qualifier    string `json:"qualifier,omitempty"`
	ID           string `json:"id"`
}

type wireCreate struct {
	ID             string          `json:"id"`
	PMID           string          `json:"pmId"`
	PMType         string          `json:"pmType"`
	ClientSideOnly bool            `json:"clientSideOnly"`
	Attributes     []wireAttribute `json:"attributes"`
}

type wireDelete struct {
	ID   string `json:"id"`
	PMID string `json:"pmId"`
}

type wireValueChanged struct {
	ID          string `json:"id"`
	AttributeID string `json:"attributeId"`
	OldValue    any    `json:"oldValue"`
	NewValue    any    `json:"newValue"`
}

type wireQualifierChanged struct {
	ID           string `json:"id"`
	AttributeID  string `json:"attributeId"`
	NewQualifier string `json:"newQualifier"`
}

type wireEmpty struct {
	ID string `json:"id"`
}

// Encode returns the JSON array for cmds. An empty batch encodes as "[]".
func (c JSONCodec) Encode(cmds []Command) ([]byte, error) {
	items := make([]any, 0, len(cmds))
	for i, cmd := range cmds {
		item, err := toWire(cmd)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode command %d: %w", i, err)
		}
		items = append(items, item)
	}

	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	if len(data) > c.maxSize() {
		return nil, ErrPayloadTooLarge.WithDetail(fmt.Sprintf("%d bytes exceeds limit of %d", len(data), c.maxSize()))
	}
	return data, nil
}

func toWire(cmd Command) (any, error) {
	cmd = Normalize(cmd)
	if cmd == nil {
		return nil, ErrNilCommand
	}

	switch v := cmd.(type) {
	case CreatePresentationModel:
		attrs := make([]wireAttribute, 0, len(v.Attributes))
		for _, a := range v.Attributes {
			attrs = append(attrs, wireAttribute(a))
		}
		return wireCreate{
			ID:             v.Kind().String(),
			PMID:           v.PMID,
			PMType:         v.PMType,
			ClientSideOnly: v.ClientSideOnly,
			Attributes:     attrs,
		}, nil
	case DeletePresentationModel:
		return wireDelete{ID: v.Kind().String(), PMID: v.PMID}, nil
	case ValueChanged:
		return wireValueChanged{
			ID:          v.Kind().String(),
			AttributeID: v.AttributeID,
			OldValue:    v.OldValue,
			NewValue:    v.NewValue,
		}, nil
	case QualifierChanged:
		return wireQualifierChanged{
			ID:           v.Kind().String(),
			AttributeID:  v.AttributeID,
			NewQualifier: v.NewQualifier,
		}, nil
	case Empty, StartLongPoll, InterruptLongPoll:
		return wireEmpty{ID: v.Kind().String()}, nil
	default:
		return nil, ErrUnknownCommand.WithSubject(fmt.Sprintf("%T", cmd))
	}
}

// Decode parses a JSON array of commands. Unknown or missing discriminators,
// malformed objects and oversized payloads fail the whole batch.
func (c JSONCodec) Decode(data []byte) ([]Command, error) {
	if len(data) > c.maxSize() {
		return nil, ErrPayloadTooLarge.WithDetail(fmt.Sprintf("%d bytes exceeds limit of %d", len(data), c.maxSize()))
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrMalformedPayload.Wrap(err)
	}

	cmds := make([]Command, 0, len(raw))
	for i, item := range raw {
		cmd, err := fromWire(item)
		if err != nil {
			return nil, fmt.Errorf("protocol: decode command %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

func fromWire(item json.RawMessage) (Command, error) {
	var head struct {
		ID *string `json:"id"`
	}
	if err := json.Unmarshal(item, &head); err != nil {
		return nil, ErrMalformedPayload.Wrap(err)
	}
	if head.ID == nil || *head.ID == "" {
		return nil, ErrMissingCommandID
	}
	kind, ok := ParseKind(*head.ID)
	if !ok {
		return nil, ErrUnknownCommand.WithSubject(*head.ID)
	}

	switch kind {
	case KindCreatePresentationModel:
		var w wireCreate
		if err := unmarshal(item, &w); err != nil {
			return nil, err
		}
		cmd := CreatePresentationModel{
			PMID:           w.PMID,
			PMType:         w.PMType,
			ClientSideOnly: w.ClientSideOnly,
			Attributes:     make([]AttributeData, 0, len(w.Attributes)),
		}
		for _, a := range w.Attributes {
			a.Value = model.NormalizeValue(a.Value)
			cmd.Attributes = append(cmd.Attributes, AttributeData(a))
		}
		return cmd, nil
	case KindDeletePresentationModel:
		var w wireDelete
		if err := unmarshal(item, &w); err != nil {
			return nil, err
		}
		return DeletePresentationModel{PMID: w.PMID}, nil
	case KindValueChanged:
		var w wireValueChanged
		if err := unmarshal(item, &w); err != nil {
			return nil, err
		}
		return ValueChanged{
			AttributeID: w.AttributeID,
			OldValue:    model.NormalizeValue(w.OldValue),
			NewValue:    model.NormalizeValue(w.NewValue),
		}, nil
	case KindQualifierChanged:
		var w wireQualifierChanged
		if err := unmarshal(item, &w); err != nil {
			return nil, err
		}
		return QualifierChanged{AttributeID: w.AttributeID, NewQualifier: w.NewQualifier}, nil
	case KindStartLongPoll:
		return StartLongPoll{}, nil
	case KindInterruptLongPoll:
		return InterruptLongPoll{}, nil
	default:
		return Empty{}, nil
	}
}

func unmarshal(item json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return ErrMalformedPayload.Wrap(err)
	}
	return nil
}
