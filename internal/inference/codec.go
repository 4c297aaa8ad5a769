package inference

import (
	"fmt"

	"github.com/banshee-data/cloudsplit/internal/cloud"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CodecName is the gRPC content-subtype of the inference messages.
const CodecName = "pcb"

// Message layouts, protobuf-compatible:
//
//	message Batch            { string name = 1; Cloud cloud = 2; }
//	message Output           { repeated sint32 predict_labels = 1 [packed]; }
//	message ConfigureRequest { string model_type = 1; google.protobuf.Struct model_params = 2;
//	                           string device = 3; google.protobuf.Struct pipeline_params = 4;
//	                           string checkpoint = 5; }
//	message ConfigureResponse { string device = 1; string model_type = 2; }
//
// Cloud is the message written by cloud.AppendCloud.

type wireMessage interface {
	appendWire(b []byte) ([]byte, error)
	consumeWire(b []byte) error
}

type pcbCodec struct{}

func (pcbCodec) Name() string { return CodecName }

func (pcbCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("%s codec: cannot marshal %T", CodecName, v)
	}
	return m.appendWire(nil)
}

func (pcbCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("%s codec: cannot unmarshal into %T", CodecName, v)
	}
	return m.consumeWire(data)
}

func init() {
	encoding.RegisterCodec(pcbCodec{})
}

// consumeFields walks b, handing each field to fn. fn returns the bytes it
// consumed, or 0 to have the field skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func bytesField(typ protowire.Type, b []byte) ([]byte, int) {
	if typ != protowire.BytesType {
		return nil, 0
	}
	return protowire.ConsumeBytes(b)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendParams(b []byte, num protowire.Number, params map[string]any) ([]byte, error) {
	if len(params) == 0 {
		return b, nil
	}
	s, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	raw, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, raw), nil
}

func consumeParams(raw []byte) (map[string]any, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return s.AsMap(), nil
}

func (x *Batch) appendWire(b []byte) ([]byte, error) {
	pc := &cloud.PointCloud{
		Points:   x.Points,
		Labels:   x.Labels,
		Features: x.Features,
		HasColor: x.Features != nil,
	}
	if err := pc.Validate(); err != nil {
		return nil, fmt.Errorf("batch %s: %w", x.Name, err)
	}
	b = appendString(b, 1, x.Name)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendBytes(b, cloud.AppendCloud(nil, pc)), nil
}

func (x *Batch) consumeWire(b []byte) error {
	*x = Batch{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		v, n := bytesField(typ, b)
		if n <= 0 {
			return n, nil
		}
		switch num {
		case 1:
			x.Name = string(v)
		case 2:
			pc, err := cloud.ConsumeCloud(v)
			if err != nil {
				return 0, err
			}
			x.Points, x.Labels, x.Features = pc.Points, pc.Labels, pc.Features
		default:
			return 0, nil
		}
		return n, nil
	})
}

func (x *Output) appendWire(b []byte) ([]byte, error) {
	return cloud.AppendPackedInt32(b, 1, x.PredictLabels), nil
}

func (x *Output) consumeWire(b []byte) error {
	*x = Output{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		v, n := bytesField(typ, b)
		if n <= 0 {
			return n, nil
		}
		labels, err := cloud.ConsumePackedInt32(v)
		if err != nil {
			return 0, err
		}
		x.PredictLabels = append(x.PredictLabels, labels...)
		return n, nil
	})
}

func (x *ConfigureRequest) appendWire(b []byte) ([]byte, error) {
	var err error
	b = appendString(b, 1, string(x.Model.Type))
	if b, err = appendParams(b, 2, x.Model.Params); err != nil {
		return nil, fmt.Errorf("model %w", err)
	}
	b = appendString(b, 3, x.Pipeline.Device)
	if b, err = appendParams(b, 4, x.Pipeline.Params); err != nil {
		return nil, fmt.Errorf("pipeline %w", err)
	}
	return appendString(b, 5, x.Checkpoint), nil
}

func (x *ConfigureRequest) consumeWire(b []byte) error {
	*x = ConfigureRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		v, n := bytesField(typ, b)
		if n <= 0 {
			return n, nil
		}
		var err error
		switch num {
		case 1:
			x.Model.Type = ModelType(v)
		case 2:
			x.Model.Params, err = consumeParams(v)
		case 3:
			x.Pipeline.Device = string(v)
		case 4:
			x.Pipeline.Params, err = consumeParams(v)
		case 5:
			x.Checkpoint = string(v)
		default:
			return 0, nil
		}
		return n, err
	})
}

func (x *ConfigureResponse) appendWire(b []byte) ([]byte, error) {
	b = appendString(b, 1, x.Device)
	return appendString(b, 2, string(x.Model)), nil
}

func (x *ConfigureResponse) consumeWire(b []byte) error {
	*x = ConfigureResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		v, n := bytesField(typ, b)
		if n <= 0 {
			return n, nil
		}
		switch num {
		case 1:
			x.Device = string(v)
		case 2:
			x.Model = ModelType(v)
		default:
			return 0, nil
		}
		return n, nil
	})
}
