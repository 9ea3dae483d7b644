// SPDX-License-Identifier: MIT
// Copyright (c) 2025 go-iecp5 contributors.

package asdu

import (
	"time"
)

// Application Service Data Units (ASDUs) for process information in the monitoring direction

// checkValid check common parameter of request is valid
func checkValid(c Connect, typeID TypeID, isSequence bool, infosLen int) error {
	if infosLen == 0 {
		return ErrNotAnyObjInfo
	}
	objSize, err := GetInfoObjSize(typeID)
	if err != nil {
		return err
	}
	param := c.Params()
	if err := param.Valid(); err != nil {
		return err
	}

	var asduLen int
	if isSequence {
		asduLen = param.IdentifierSize() + infosLen*objSize + param.InfoObjAddrSize
	} else {
		asduLen = param.IdentifierSize() + infosLen*(objSize+param.InfoObjAddrSize)
	}

	if asduLen > ASDUSizeMax {
		return ErrLengthOutOfRange
	}
	return nil
}

// SinglePointInfo the measured value attributes.
type SinglePointInfo struct {
	Ioa InfoObjAddr
	// value of single point
	Value bool
	// Quality descriptor asdu.OK means no remarks.
	Qds QualityDescriptor
	// the type does not include timing will ignore
	Time time.Time
}

// single sends a type identification [M_SP_NA_1], [M_SP_TA_1] or [M_SP_TB_1]. Single-point information
// [M_SP_NA_1] See companion standard 101,subclass 7.3.1.1
// [M_SP_TA_1] See companion standard 101,subclass 7.3.1.2
// [M_SP_TB_1] See companion standard 101,subclass 7.3.1.22
func single(c Connect, typeID TypeID, isSequence bool, coa CauseOfTransmission, ca CommonAddr, infos ...SinglePointInfo) error {
	if err := checkValid(c, typeID, isSequence, len(infos)); err != nil {
		return err
	}
	switch typeID {
	case M_SP_NA_1, M_SP_TA_1, M_SP_TB_1:
	default:
		return ErrTypeIDNotMatch
	}

	u := NewASDU(c.Params(), Identifier{
		typeID,
		VariableStruct{IsSequence: isSequence},
		coa,
		0,
		ca,
	})
	if err := u.SetVariableNumber(len(infos)); err != nil {
		return err
	}

	once := false
	for _, info := range infos {
		if !isSequence || !once {
			once = true
			if err := u.appendInfoObjAddr(info.Ioa); err != nil {
				return err
			}
		}
		value := byte(0)
		if info.Value {
			value = 0x01
		}
		u.appendBytes(value | byte(info.Qds&0xf0))
		switch typeID {
		case M_SP_TA_1:
			u.appendCP24Time2a(info.Time, u.InfoObjTimeZone)
		case M_SP_TB_1:
			u.appendCP56Time2a(info.Time, u.InfoObjTimeZone)
		}
	}
	return c.Send(u)
}

// GetSinglePoint decodes every single-point item carried by this ASDU
// (idempotent: the underlying info object bytes are restored afterward).
func (sf *ASDU) GetSinglePoint() []SinglePointInfo {
	saved := sf.infoObj
	defer func() { sf.infoObj = saved }()

	n := int(sf.Variable.Number)
	if n == 0 {
		n = 1
	}
	infos := make([]SinglePointInfo, 0, n)
	var ioa InfoObjAddr
	for i := 0; i < n; i++ {
		if !sf.Variable.IsSequence || i == 0 {
			ioa = sf.decodeInfoObjAddr()
		} else {
			ioa++
		}
		raw := sf.decodeByte()
		info := SinglePointInfo{
			Ioa:   ioa,
			Value: raw&0x01 == 0x01,
			Qds:   QualityDescriptor(raw & 0xf0),
		}
		switch sf.Type {
		case M_SP_TA_1:
			info.Time = sf.decodeCP24Time2a()
		case M_SP_TB_1:
			info.Time = sf.decodeCP56Time2a()
		}
		infos = append(infos, info)
	}
	return infos
}

// Single sends a type identification [M_SP_NA_1]. Single-point information without timestamp
// [M_SP_NA_1] See companion standard 101, subclass 7.3.1.1
// Cause of transmission (coa) used for monitoring direction:
// <2> := Background scan
// <3> := Spontaneous
// <5> := Requested
// <11> := Return information caused by remote command
// <12> := Return information caused by local command
// <20> := Response to station interrogation
// <21> := Response to group 1 interrogation
// ...
// <36> := Response to group 16 interrogation
func Single(c Connect, isSequence bool, coa CauseOfTransmission, ca CommonAddr, infos ...SinglePointInfo) error {
	if !(coa.Cause == Background || coa.Cause == Spontaneous || coa.Cause == Request ||
		coa.Cause == ReturnInfoRemote || coa.Cause == ReturnInfoLocal ||
		(coa.Cause >= InterrogatedByStation && coa.Cause <= InterrogatedByGroup16)) {
		return ErrCmdCause
	}
	return single(c, M_SP_NA_1, isSequence, coa, ca, infos...)
}

// SingleCP24Time2a sends a type identification [M_SP_TA_1]. Single-point information with CP24Time2a timestamp, only (SQ = 0) single information elements
// [M_SP_TA_1] See companion standard 101, subclass 7.3.1.2
// Cause of transmission (coa) used for monitoring direction:
// <3> := Spontaneous
// <5> := Requested
// <11> := Return information caused by remote command
// <12> := Return information caused by local command
func SingleCP24Time2a(c Connect, coa CauseOfTransmission, ca CommonAddr, infos ...SinglePointInfo) error {
	if !(coa.Cause == Spontaneous || coa.Cause == Request ||
		coa.Cause == ReturnInfoRemote || coa.Cause == ReturnInfoLocal) {
		return ErrCmdCause
	}
	return single(c, M_SP_TA_1, false, coa, ca, infos...)
}

// SingleCP56Time2a sends a type identification [M_SP_TB_1]. Single-point information with CP56Time2a timestamp, only (SQ = 0) single information elements
// [M_SP_TB_1] See companion standard 101, subclass 7.3.1.22
// Cause of transmission (coa) used for monitoring direction:
// <3> := Spontaneous
// <5> := Requested
// <11> := Return information caused by remote command
// <12> := Return information caused by local command
func SingleCP56Time2a(c Connect, coa CauseOfTransmission, ca CommonAddr, infos ...SinglePointInfo) error {
	if !(coa.Cause == Spontaneous || coa.Cause == Request ||
		coa.Cause == ReturnInfoRemote || coa.Cause == ReturnInfoLocal) {
		return ErrCmdCause
	}
	return single(c, M_SP_TB_1, false, coa, ca, infos...)
}
