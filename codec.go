package telemetry

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding: the same value always produces
// the same bytes, so unchanged rows can be compared byte for byte.
var encMode cbor.EncMode

// decMode ignores unknown fields so older binaries can read newer rows.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("telemetry: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("telemetry: CBOR decoder initialization failed: " + err.Error())
	}
}

// envelope is the persisted form of a Value.
type envelope struct {
	Type MetricType `cbor:"1,keyasint"`
	Str  string     `cbor:"2,keyasint,omitempty"`
	List []string   `cbor:"3,keyasint,omitempty"`
	Int  int64      `cbor:"4,keyasint,omitempty"`
	Bool bool       `cbor:"5,keyasint,omitempty"`
	Unit TimeUnit   `cbor:"6,keyasint,omitempty"`
}

func encodeValue(v Value) ([]byte, error) {
	var env envelope
	switch val := v.(type) {
	case StringValue:
		env = envelope{Type: MetricTypeString, Str: string(val)}
	case StringListValue:
		env = envelope{Type: MetricTypeStringList, List: []string(val)}
	case CounterValue:
		env = envelope{Type: MetricTypeCounter, Int: int64(val)}
	case BooleanValue:
		env = envelope{Type: MetricTypeBoolean, Bool: bool(val)}
	case TimespanValue:
		env = envelope{Type: MetricTypeTimespan, Int: int64(val.Duration), Unit: val.Unit}
	default:
		return nil, fmt.Errorf("telemetry: cannot encode %T", v)
	}
	return encMode.Marshal(env)
}

func decodeValue(data []byte) (Value, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("telemetry: decoding value: %w", err)
	}
	switch env.Type {
	case MetricTypeString:
		return StringValue(env.Str), nil
	case MetricTypeStringList:
		if env.List == nil {
			return StringListValue{}, nil
		}
		return StringListValue(env.List), nil
	case MetricTypeCounter:
		return CounterValue(env.Int), nil
	case MetricTypeBoolean:
		return BooleanValue(env.Bool), nil
	case MetricTypeTimespan:
		return TimespanValue{Duration: time.Duration(env.Int), Unit: env.Unit}, nil
	}
	return nil, fmt.Errorf("telemetry: decoding value: unknown type %q", env.Type)
}
