package asdu

import (
	"reflect"
	"testing"
)

// helper to unmarshal with wide params
func mustUnmarshal(t *testing.T, raw []byte) *ASDU {
	t.Helper()
	a := NewEmptyASDU(ParamsWide)
	if err := a.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	return a
}

// helper to unmarshal with custom params
func mustUnmarshalWithParams(t *testing.T, p *Params, raw []byte) *ASDU {
	t.Helper()
	a := NewEmptyASDU(p)
	if err := a.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	return a
}

func cloneBytes(b []byte) []byte { c := make([]byte, len(b)); copy(c, b); return c }

func marshal(t *testing.T, a *ASDU) []byte {
	t.Helper()
	b, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	return cloneBytes(b)
}

// build minimal raw for a given header and payload
func buildRaw(params *Params, id Identifier, payload []byte) []byte {
	a := NewASDU(params, id)
	a.infoObj = append(a.infoObj, payload...)
	b, _ := a.MarshalBinary()
	return cloneBytes(b)
}

func TestGetSinglePoint_Idempotent(t *testing.T) {
	// one element, no time, IOA size 3
	id := Identifier{Type: M_SP_NA_1, Variable: VariableStruct{IsSequence: false, Number: 1}, Coa: CauseOfTransmission{Cause: Spontaneous}, CommonAddr: 1}
	ioa := InfoObjAddr(0x010203)
	payload := []byte{byte(ioa), byte(ioa >> 8), byte(ioa >> 16), 0x01 /*on + qds=0*/}
	raw := buildRaw(ParamsWide, id, payload)
	a := mustUnmarshal(t, raw)

	before := marshal(t, a)
	v1 := a.GetSinglePoint()
	v2 := a.GetSinglePoint()
	if !reflect.DeepEqual(v1, v2) {
		t.Fatalf("values differ on second call: %#v vs %#v", v1, v2)
	}
	after := marshal(t, a)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("ASDU mutated by GetSinglePoint; before %x after %x", before, after)
	}
}

func TestSystemGetters_Idempotent(t *testing.T) {
	// C_IC_NA_1 interrogation
	id := Identifier{Type: C_IC_NA_1, Variable: VariableStruct{IsSequence: false, Number: 1}, Coa: CauseOfTransmission{Cause: Activation}, CommonAddr: 1}
	ioa := InfoObjAddrIrrelevant
	payload := []byte{byte(ioa), byte(QOIStation)}
	raw := buildRaw(ParamsNarrow, id, payload)
	a := mustUnmarshalWithParams(t, ParamsNarrow, raw)
	before := marshal(t, a)
	_, _ = a.GetInterrogationCmd()
	_, _ = a.GetInterrogationCmd()
	after := marshal(t, a)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("ASDU mutated by GetInterrogationCmd")
	}

	// C_TS_TA_1 test with CP56
	id = Identifier{Type: C_TS_TA_1, Variable: VariableStruct{IsSequence: false, Number: 1}, Coa: CauseOfTransmission{Cause: Activation}, CommonAddr: 1}
	payload = []byte{0 /*IOA*/, 0xAA, 0x55 /*test word*/, 0, 0, 0, 0, 0, 0, 0}
	raw = buildRaw(ParamsNarrow, id, payload)
	a = mustUnmarshalWithParams(t, ParamsNarrow, raw)
	before = marshal(t, a)
	_, _, _ = a.GetTestCommandCP56Time2a()
	_, _, _ = a.GetTestCommandCP56Time2a()
	after = marshal(t, a)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("ASDU mutated by GetTestCommandCP56Time2a")
	}
}
