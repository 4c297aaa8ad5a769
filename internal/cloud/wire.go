package cloud

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the cloud message. The layout is protobuf-compatible:
//
//	message Cloud {
//	  uint64 count = 1;
//	  repeated double points = 2 [packed];   // x0,y0,z0,x1,...
//	  repeated double features = 3 [packed]; // r0,g0,b0,r1,...
//	  repeated sint32 labels = 4 [packed];
//	  bool has_color = 5;
//	  bool has_labels = 6;
//	}
const (
	fieldCount     protowire.Number = 1
	fieldPoints    protowire.Number = 2
	fieldFeatures  protowire.Number = 3
	fieldLabels    protowire.Number = 4
	fieldHasColor  protowire.Number = 5
	fieldHasLabels protowire.Number = 6
)

// AppendCloud appends the wire encoding of pc to b.
func AppendCloud(b []byte, pc *PointCloud) []byte {
	n := pc.Len()
	b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n))

	if n > 0 {
		b = protowire.AppendTag(b, fieldPoints, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(n*3*8))
		for _, p := range pc.Points {
			for _, v := range p {
				b = protowire.AppendFixed64(b, math.Float64bits(v))
			}
		}
	}

	if pc.HasColor {
		b = protowire.AppendTag(b, fieldHasColor, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
		if n > 0 {
			b = protowire.AppendTag(b, fieldFeatures, protowire.BytesType)
			b = protowire.AppendVarint(b, uint64(n*3*8))
			for _, c := range pc.Features {
				for _, v := range c {
					b = protowire.AppendFixed64(b, math.Float64bits(v))
				}
			}
		}
	}

	if pc.Labels != nil {
		b = protowire.AppendTag(b, fieldHasLabels, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
		b = AppendPackedInt32(b, fieldLabels, pc.Labels)
	}
	return b
}

// AppendPackedInt32 appends a packed sint32 field. Empty slices are skipped.
func AppendPackedInt32(b []byte, num protowire.Number, vs []int32) []byte {
	if len(vs) == 0 {
		return b
	}
	var payload []byte
	for _, v := range vs {
		payload = protowire.AppendVarint(payload, protowire.EncodeZigZag(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// ConsumePackedInt32 decodes a packed sint32 payload.
func ConsumePackedInt32(payload []byte) ([]int32, error) {
	var out []int32
	for len(payload) > 0 {
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int32(protowire.DecodeZigZag(v)))
		payload = payload[n:]
	}
	return out, nil
}

func consumePackedDoubles(payload []byte) ([]float64, error) {
	if len(payload)%8 != 0 {
		return nil, fmt.Errorf("packed double payload of %d bytes is not a multiple of 8", len(payload))
	}
	out := make([]float64, 0, len(payload)/8)
	for len(payload) > 0 {
		v, n := protowire.ConsumeFixed64(payload)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float64frombits(v))
		payload = payload[n:]
	}
	return out, nil
}

// ConsumeCloud decodes a cloud message. Unknown fields are skipped.
func ConsumeCloud(b []byte) (*PointCloud, error) {
	var (
		count     uint64
		coords    []float64
		colours   []float64
		labels    []int32
		hasColor  bool
		hasLabels bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldCount && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			count = v
			n = m
		case num == fieldHasColor && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			hasColor = protowire.DecodeBool(v)
			n = m
		case num == fieldHasLabels && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			hasLabels = protowire.DecodeBool(v)
			n = m
		case (num == fieldPoints || num == fieldFeatures || num == fieldLabels) && typ == protowire.BytesType:
			payload, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}
			var err error
			switch num {
			case fieldPoints:
				coords, err = consumePackedDoubles(payload)
			case fieldFeatures:
				colours, err = consumePackedDoubles(payload)
			case fieldLabels:
				labels, err = ConsumePackedInt32(payload)
			}
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", num, err)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
		}
		b = b[n:]
	}

	if uint64(len(coords)) != count*3 {
		return nil, fmt.Errorf("cloud declares %d points but carries %d coordinates", count, len(coords))
	}
	pc := &PointCloud{
		Points:   make([]Point3, count),
		HasColor: hasColor,
	}
	for i := range pc.Points {
		pc.Points[i] = Point3{coords[3*i], coords[3*i+1], coords[3*i+2]}
	}
	if hasColor {
		if uint64(len(colours)) != count*3 {
			return nil, fmt.Errorf("cloud declares %d points but carries %d colour values", count, len(colours))
		}
		pc.Features = make([][3]float64, count)
		for i := range pc.Features {
			pc.Features[i] = [3]float64{colours[3*i], colours[3*i+1], colours[3*i+2]}
		}
	}
	if hasLabels {
		if labels == nil {
			labels = []int32{}
		}
		pc.Labels = labels
	}
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return pc, nil
}
