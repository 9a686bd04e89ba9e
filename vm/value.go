package vm

import "fmt"

// ---------------------------------------------------------------------------
// Value: tagged stack cell
// ---------------------------------------------------------------------------

// Kind tags a stack value. Code words carry no type; the tag is applied by
// the instruction that produces or consumes the value.
type Kind uint8

const (
	KindInt Kind = iota
	KindString
	KindAddress
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindAddress:
		return "address"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is one stack cell.
type Value struct {
	Kind Kind
	Raw  int32
}

// Int makes an integer value.
func Int(v int32) Value { return Value{Kind: KindInt, Raw: v} }

// StringHandle makes a local string handle value.
func StringHandle(h uint32) Value { return Value{Kind: KindString, Raw: int32(h)} }

// Address makes a memory address value.
func Address(a uint32) Value { return Value{Kind: KindAddress, Raw: int32(a)} }

// Word makes an integer value from a raw 16-bit memory word.
func Word(w uint16) Value { return Int(int32(int16(w))) }

// filler marks cells reserved by ADDSP.
var filler = Word(0xdddd)

// Int returns the value as a signed integer.
func (v Value) Int() int32 { return v.Raw }

// Handle returns the value as a string handle.
func (v Value) Handle() uint32 { return uint32(v.Raw) }

// Addr returns the value as a memory address. Negative values map to an
// address no stack can hold.
func (v Value) Addr() int {
	return int(v.Raw)
}

// Word returns the low 16 bits, the form stored in globals.
func (v Value) Word() uint16 { return uint16(v.Raw) }

// Truth reports whether the value is non-zero.
func (v Value) Truth() bool { return v.Raw != 0 }

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return fmt.Sprintf("str#%d", v.Raw)
	case KindAddress:
		return fmt.Sprintf("@%04x", uint32(v.Raw))
	}
	return fmt.Sprintf("%d", v.Raw)
}

// boolValue converts a comparison result to 0/1.
func boolValue(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// wrap16 truncates an arithmetic result to the signed 16-bit range the
// compiled scripts expect.
func wrap16(v int32) int32 {
	return int32(int16(v))
}
