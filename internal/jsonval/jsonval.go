// Package jsonval 定义结构化 JSON 值（字符串/数字/布尔/null/有序列表/映射）的边界校验。
// 入库或写入缓存前统一经过 Normalize，不支持的形状直接拒绝，而不是被静默转成字符串。
package jsonval

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"gorm.io/datatypes"
)

// ErrUnsupported 表示值中存在无法表示为 JSON 的形状（函数、通道、复数、非字符串键映射等）。
var ErrUnsupported = errors.New("jsonval: unsupported value")

// Object 是最常用的顶层形状：字符串键到任意结构化值。
type Object = map[string]any

// Normalize 把任意 Go 值转换为仅包含 nil、bool、string、float64、json.Number、
// []any 与 map[string]any 的结构化值。整数以 json.Number 保留全部精度。
func Normalize(v any) (any, error) {
	return normalize(reflect.ValueOf(v), "$")
}

func normalize(rv reflect.Value, path string) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	// json.Number / json.RawMessage 走专用分支，保留其原始语义
	switch x := rv.Interface().(type) {
	case json.Number:
		if _, err := x.Float64(); err != nil {
			return nil, fmt.Errorf("%w: %s: bad number %q", ErrUnsupported, path, string(x))
		}
		return x, nil
	case json.RawMessage:
		return decodeRaw(x, path, true)
	case JSON:
		return decodeRaw(json.RawMessage(x), path, true)
	case datatypes.JSON:
		return decodeRaw(json.RawMessage(x), path, true)
	}
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem(), path)
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return json.Number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s: non-finite number", ErrUnsupported, path)
		}
		return f, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := normalize(rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: %s: map key must be string", ErrUnsupported, path)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			item, err := normalize(iter.Value(), path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = item
		}
		return out, nil
	case reflect.Struct:
		// 结构体（包括 time.Time 等）经由其 JSON 编码表示，再按结构化值重新校验
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
		}
		return decodeRaw(b, path, true)
	default:
		return nil, fmt.Errorf("%w: %s: kind %s", ErrUnsupported, path, rv.Kind())
	}
}

// decodeRaw keepNumbers 为 true 时数字解码为 json.Number，再次编码时不丢精度。
func decodeRaw(raw json.RawMessage, path string, keepNumbers bool) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if keepNumbers {
		dec.UseNumber()
	}
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: %s: trailing data", ErrUnsupported, path)
	}
	return out, nil
}

// Encode 校验并序列化为可写入 JSON 列的值。nil 编码为 JSON null。
func Encode(v any) (JSON, error) {
	n, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return JSON(b), nil
}

// Decode 把 JSON 列内容还原为结构化值（数字为 float64）；空列返回 nil。
func Decode(raw JSON) (any, error) {
	return decodeRaw(json.RawMessage(raw), "$", false)
}

// DecodeObject 与 Decode 类似，但要求顶层为对象（或空）。
func DecodeObject(raw JSON) (Object, error) {
	v, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, want object", ErrUnsupported, v)
	}
	return obj, nil
}
