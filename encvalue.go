package docindex

import (
	"fmt"
)

const (
	valueFormatVer1      = 1
	valueFormatVerLatest = valueFormatVer1

	minValueSize = 3
)

// recordValue is the stored form of a record: a small uvarint header
// followed by the msgpack body.
//
//	format version
//	modification count
//	body
type recordValue struct {
	FormatVer uint64
	ModCount  uint64
	Data      []byte
}

func appendRecordValue(buf []byte, modCount uint64, body *storedRecord) []byte {
	buf = appendUvarint(buf, valueFormatVerLatest)
	buf = appendUvarint(buf, modCount)
	return encodeMsgpack(buf, body)
}

func (vle *recordValue) decode(data []byte) error {
	if len(data) < minValueSize {
		return dataErrf(data, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(data)
	ver, err := d.Uvarint()
	if err != nil {
		return err
	}
	if ver == 0 || ver > valueFormatVerLatest {
		return dataErrf(data, 0, nil, "invalid value: unsupported format version %d", ver)
	}
	vle.FormatVer = ver
	if vle.ModCount, err = d.Uvarint(); err != nil {
		return err
	}
	vle.Data = d.Rest()
	return nil
}

func (vle *recordValue) body() (*storedRecord, error) {
	sr := new(storedRecord)
	if err := decodeMsgpack(vle.Data, sr); err != nil {
		return nil, fmt.Errorf("record body: %w", err)
	}
	return sr, nil
}
