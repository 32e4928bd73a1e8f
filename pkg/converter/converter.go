package converter

import (
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// ArrowType maps a declared field type to the column type used in cleaned output
func ArrowType(t config.FieldType) (arrow.DataType, error) {
	switch t {
	case config.TypeString, config.TypeStatus:
		return arrow.BinaryTypes.String, nil
	case config.TypeInt:
		return arrow.PrimitiveTypes.Int64, nil
	case config.TypeFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case config.TypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case config.TypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	default:
		return arrow.BinaryTypes.String, fmt.Errorf("unknown field type: %s (mapped to string as fallback)", t)
	}
}

// AppendValue appends a value to a column builder, writing null for missing values.
// Empty strings stay empty so "present but empty" survives in string columns.
func AppendValue(b array.Builder, v model.Value) error {
	if v.Kind == model.KindAbsent {
		b.AppendNull()
		return nil
	}

	switch bld := b.(type) {
	case *array.StringBuilder:
		if v.Kind == model.KindNull {
			bld.Append("")
			return nil
		}
		bld.Append(v.Text)
	case *array.Int64Builder:
		if v.Kind != model.KindInt {
			return appendNullOrFail(b, v, "int64")
		}
		bld.Append(v.Int)
	case *array.Float64Builder:
		switch v.Kind {
		case model.KindFloat:
			bld.Append(v.Float)
		case model.KindInt:
			bld.Append(float64(v.Int))
		default:
			return appendNullOrFail(b, v, "float64")
		}
	case *array.BooleanBuilder:
		if v.Kind != model.KindBool {
			return appendNullOrFail(b, v, "bool")
		}
		bld.Append(v.Bool)
	case *array.Date32Builder:
		if v.Kind != model.KindDate {
			return appendNullOrFail(b, v, "date32")
		}
		bld.Append(arrow.Date32FromTime(v.Date))
	default:
		return fmt.Errorf("unsupported column builder %T", b)
	}
	return nil
}

func appendNullOrFail(b array.Builder, v model.Value, target string) error {
	if v.Kind == model.KindNull {
		b.AppendNull()
		return nil
	}
	return fmt.Errorf("cannot write %s value %q to %s column", v.Kind, v.Text, target)
}

// FromArrow extracts element i of an arrow array as an untyped raw scalar.
// Nulls come back as (nil, false) so readers can treat them as absent.
func FromArrow(arr arrow.Array, i int) (any, bool) {
	if arr.IsNull(i) {
		return nil, false
	}

	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), true
	case *array.LargeString:
		return a.Value(i), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Boolean:
		return a.Value(i), true
	case *array.Date32:
		return a.Value(i).ToTime().Format(model.CanonicalDateLayout), true
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC().Format(model.CanonicalDateLayout), true
	default:
		return arr.ValueStr(i), true
	}
}
