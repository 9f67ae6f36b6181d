package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// CurrentSchemaVersion is the first byte of every encoded session.
const CurrentSchemaVersion = 1

const maxFieldLength = 1<<16 - 1

const (
	flagActive byte = 1 << iota
)

// Encode writes s in the compact binary session format:
//
//	version | id | user id | created (unix nano) | last activity (unix nano) |
//	flags | user agent | screen | timezone | language | platform | hash
//
// Strings are prefixed with a big-endian uint16 length.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	if err := writeString(&buf, "id", s.ID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.LastActivity.UnixNano()); err != nil {
		return nil, err
	}

	var flags byte
	if s.Active {
		flags |= flagActive
	}
	buf.WriteByte(flags)

	fp := s.Fingerprint
	for _, f := range []struct{ name, v string }{
		{"userAgent", fp.UserAgent},
		{"screen", fp.Screen},
		{"timezone", fp.Timezone},
		{"language", fp.Language},
		{"platform", fp.Platform},
		{"hash", fp.Hash},
	} {
		if err := writeString(&buf, f.name, f.v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses data produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{}
	if s.ID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.UserID, err = readString(reader); err != nil {
		return nil, err
	}

	var created, last int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &last); err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(0, created)
	s.LastActivity = time.Unix(0, last)

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Active = flags&flagActive != 0

	fp := &s.Fingerprint
	for _, dst := range []*string{&fp.UserAgent, &fp.Screen, &fp.Timezone, &fp.Language, &fp.Platform, &fp.Hash} {
		if *dst, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after session")
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, name, v string) error {
	if len(v) > maxFieldLength {
		return fmt.Errorf("%s too long", name)
	}
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(v)))
	buf.Write(n[:])
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
