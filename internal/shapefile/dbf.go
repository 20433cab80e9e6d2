package shapefile

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// .dbf attribute file layout (dBASE III): a 32-byte header, 32-byte field
// descriptors terminated by 0x0D, then fixed-width records, each prefixed by
// a one-byte deletion flag.
const (
	dbfHeaderLen = 32
	dbfFieldLen  = 32
)

type dbfField struct {
	name   string
	typ    byte
	length int
	offset int // within a record, after the deletion flag
}

type dbfTable struct {
	data        []byte
	recordCount int
	headerSize  int
	recordSize  int
	fields      []dbfField
}

func parseDBF(data []byte) (*dbfTable, error) {
	if len(data) < dbfHeaderLen {
		return nil, corruptHeader("attribute file is %d bytes, header needs %d", len(data), dbfHeaderLen)
	}

	t := &dbfTable{
		data:        data,
		recordCount: int(binary.LittleEndian.Uint32(data[4:8])),
		headerSize:  int(binary.LittleEndian.Uint16(data[8:10])),
		recordSize:  int(binary.LittleEndian.Uint16(data[10:12])),
	}
	if t.headerSize < dbfHeaderLen+1 || t.headerSize > len(data) {
		return nil, corruptHeader("attribute file header size %d out of range", t.headerSize)
	}
	if t.recordSize < 1 {
		return nil, corruptHeader("attribute file record size %d out of range", t.recordSize)
	}
	if need := t.headerSize + t.recordCount*t.recordSize; need > len(data)+1 {
		// +1: some writers omit the trailing 0x1A end-of-file marker space.
		return nil, corruptHeader("attribute file declares %d records (%d bytes) but %d are present",
			t.recordCount, need, len(data))
	}

	offset := 1 // skip the deletion flag
	for pos := dbfHeaderLen; pos < t.headerSize-1; pos += dbfFieldLen {
		if data[pos] == 0x0D {
			break
		}
		if pos+dbfFieldLen > len(data) {
			return nil, corruptHeader("attribute field descriptor at %d truncated", pos)
		}
		desc := data[pos : pos+dbfFieldLen]
		name := desc[0:11]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		f := dbfField{
			name:   strings.ToUpper(strings.TrimSpace(string(name))),
			typ:    desc[11],
			length: int(desc[16]),
			offset: offset,
		}
		offset += f.length
		t.fields = append(t.fields, f)
	}
	if len(t.fields) == 0 {
		return nil, corruptHeader("attribute file declares no fields")
	}
	if offset > t.recordSize {
		return nil, corruptHeader("attribute fields span %d bytes but record size is %d", offset, t.recordSize)
	}

	return t, nil
}

// deletedCount tallies rows carrying the deletion flag.
func (t *dbfTable) deletedCount() int {
	n := 0
	for i := 0; i < t.recordCount; i++ {
		off := t.headerSize + i*t.recordSize
		if off < len(t.data) && t.data[off] == '*' {
			n++
		}
	}
	return n
}

// record returns row i as a field-name → trimmed-value map, plus whether the
// row carries the deleted flag.
func (t *dbfTable) record(i int) (map[string]string, bool, error) {
	off := t.headerSize + i*t.recordSize
	if off+t.recordSize > len(t.data) {
		return nil, false, corruptRecord(i, "attribute row truncated")
	}
	row := t.data[off : off+t.recordSize]
	deleted := row[0] == '*'

	attrs := make(map[string]string, len(t.fields))
	for _, f := range t.fields {
		raw := row[f.offset : f.offset+f.length]
		attrs[f.name] = strings.TrimSpace(string(bytes.Trim(raw, "\x00")))
	}
	return attrs, deleted, nil
}
