package asdu

import "errors"

// Errors returned while building, encoding or decoding an ASDU.
var (
	// ErrParam is returned when a Params value (or a byte width derived
	// from it) is out of its valid range.
	ErrParam = errors.New("asdu: invalid params")
	// ErrCommonAddrZero is returned when a CommonAddr of
	// InvalidCommonAddr is used where a real station address is required.
	ErrCommonAddrZero = errors.New("asdu: common address is zero")
	// ErrCommonAddrFit is returned when a CommonAddr does not fit in the
	// configured Params.CommonAddrSize.
	ErrCommonAddrFit = errors.New("asdu: common address does not fit width")
	// ErrInfoObjAddrFit is returned when an InfoObjAddr does not fit in
	// the configured Params.InfoObjAddrSize.
	ErrInfoObjAddrFit = errors.New("asdu: information object address does not fit width")
	// ErrInfoObjIndexFit is returned when the variable structure element
	// count does not fit: 128 or more elements, or an expected information
	// object length of zero.
	ErrInfoObjIndexFit = errors.New("asdu: information object payload does not fit object size")
	// ErrOriginAddrFit is returned when an OriginAddr is set but
	// Params.CauseSize does not carry an originator address octet.
	ErrOriginAddrFit = errors.New("asdu: originator address does not fit cause width")
	// ErrCauseZero is returned when a CauseOfTransmission of Unused is
	// used where a real cause is required.
	ErrCauseZero = errors.New("asdu: cause of transmission is zero")
	// ErrCmdCause is returned when an ASDU builder is given a cause of
	// transmission that its type identification does not allow.
	ErrCmdCause = errors.New("asdu: invalid cause of transmission for command")
	// ErrTypeIDNotMatch is returned when an ASDU's TypeID does not match
	// the message type being encoded or decoded.
	ErrTypeIDNotMatch = errors.New("asdu: type identification does not match")
	// ErrTypeIdentifier is returned when a TypeID has no registered
	// information object size.
	ErrTypeIdentifier = errors.New("asdu: unregistered type identification")
	// ErrNotAnyObjInfo is returned when a message has no information
	// objects to encode.
	ErrNotAnyObjInfo = errors.New("asdu: no information object")
	// ErrLengthOutOfRange is returned when the information objects to
	// encode would make the ASDU longer than ASDUSizeMax.
	ErrLengthOutOfRange = errors.New("asdu: information object length out of range")
)
